package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sonatabot/sonata/internal/track"
)

// SpotifyBackend maps Spotify tracks, albums, and playlists to YouTube
// lookups: Spotify supplies metadata only, the audio always comes from the
// fallback backend's source.
type SpotifyBackend struct {
	client        *spotify.Client
	searcher      Backend
	playlistLimit int
}

func NewSpotifyBackend(clientID, clientSecret string, searcher Backend, playlistLimit int) (*SpotifyBackend, error) {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	httpClient := cfg.Client(context.Background())
	cl := spotify.New(httpClient, spotify.WithRetry(true))
	if playlistLimit <= 0 {
		playlistLimit = 50
	}
	return &SpotifyBackend{client: cl, searcher: searcher, playlistLimit: playlistLimit}, nil
}

func (b *SpotifyBackend) Source() track.Source { return track.SourceSpotify }

func (b *SpotifyBackend) CanResolve(query string) bool {
	if strings.HasPrefix(query, "spotify:") {
		return true
	}
	u, err := url.Parse(query)
	if err != nil {
		return false
	}
	return u.Host == "open.spotify.com" || u.Host == "www.open.spotify.com"
}

func (b *SpotifyBackend) Resolve(ctx context.Context, query string) ([]track.Track, error) {
	typ, id, err := parseSpotifyID(query)
	if err != nil {
		return nil, &track.ResolveError{Kind: track.ResolveUnsupported, Query: query, Err: err}
	}

	var wants []string
	switch typ {
	case "track":
		t, err := b.client.GetTrack(ctx, id)
		if err != nil {
			return nil, spotifyErr(query, err)
		}
		wants = append(wants, searchQuery(t.Name, t.Artists))
	case "album":
		page, err := b.client.GetAlbumTracks(ctx, id)
		if err != nil {
			return nil, spotifyErr(query, err)
		}
		for _, t := range page.Tracks {
			if len(wants) >= b.playlistLimit {
				break
			}
			wants = append(wants, searchQuery(t.Name, t.Artists))
		}
	case "playlist":
		page, err := b.client.GetPlaylistItems(ctx, id)
		if err != nil {
			return nil, spotifyErr(query, err)
		}
		for _, it := range page.Items {
			if it.Track.Track == nil {
				continue
			}
			if len(wants) >= b.playlistLimit {
				break
			}
			t := it.Track.Track
			wants = append(wants, searchQuery(t.Name, t.Artists))
		}
	default:
		return nil, &track.ResolveError{Kind: track.ResolveUnsupported, Query: query,
			Err: fmt.Errorf("unsupported spotify type %q", typ)}
	}

	if len(wants) == 0 {
		return nil, &track.ResolveError{Kind: track.ResolveNotFound, Query: query}
	}

	var out []track.Track
	for _, w := range wants {
		found, err := b.searcher.Resolve(ctx, w)
		if err != nil || len(found) == 0 {
			continue
		}
		out = append(out, found[0])
	}
	if len(out) == 0 {
		return nil, &track.ResolveError{Kind: track.ResolveNotFound, Query: query}
	}
	return out, nil
}

func searchQuery(name string, artists []spotify.SimpleArtist) string {
	if len(artists) > 0 {
		return artists[0].Name + " - " + name
	}
	return name
}

func parseSpotifyID(raw string) (typ string, id spotify.ID, err error) {
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 {
			return parts[1], spotify.ID(parts[2]), nil
		}
		return "", "", fmt.Errorf("invalid spotify URI")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid spotify URL path")
	}
	switch parts[0] {
	case "album", "playlist", "track":
		return parts[0], spotify.ID(parts[1]), nil
	}
	return "", "", fmt.Errorf("unsupported spotify type %q", parts[0])
}

func spotifyErr(query string, err error) error {
	return &track.ResolveError{Kind: track.ResolveUpstreamUnavailable, Query: query, Err: err}
}
