package resolver

import (
	"testing"

	"github.com/zmb3/spotify/v2"
)

func TestParseSpotifyID(t *testing.T) {
	cases := []struct {
		in      string
		typ     string
		id      spotify.ID
		wantErr bool
	}{
		{in: "spotify:track:4uLU6hMCjMI75M1A2tKUQC", typ: "track", id: "4uLU6hMCjMI75M1A2tKUQC"},
		{in: "spotify:album:2up3OPMp9Tb4dAKM2erWXQ", typ: "album", id: "2up3OPMp9Tb4dAKM2erWXQ"},
		{in: "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", typ: "track", id: "4uLU6hMCjMI75M1A2tKUQC"},
		{in: "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M?si=abc", typ: "playlist", id: "37i9dQZF1DXcBWIGoYBM5M"},
		{in: "spotify:nope", wantErr: true},
		{in: "https://open.spotify.com/", wantErr: true},
		{in: "https://open.spotify.com/artist/1dfeR4HaWDbWqFHLkxsg1d", wantErr: true},
	}
	for _, tc := range cases {
		typ, id, err := parseSpotifyID(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseSpotifyID(%q): expected error, got %s/%s", tc.in, typ, id)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseSpotifyID(%q): %v", tc.in, err)
			continue
		}
		if typ != tc.typ || id != tc.id {
			t.Errorf("parseSpotifyID(%q) = %s/%s, want %s/%s", tc.in, typ, id, tc.typ, tc.id)
		}
	}
}

func TestSearchQuery(t *testing.T) {
	artists := []spotify.SimpleArtist{{Name: "Daft Punk"}, {Name: "Pharrell Williams"}}
	if got := searchQuery("Get Lucky", artists); got != "Daft Punk - Get Lucky" {
		t.Errorf("searchQuery = %q", got)
	}
	if got := searchQuery("Untitled", nil); got != "Untitled" {
		t.Errorf("searchQuery without artist = %q", got)
	}
}
