package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/sonatabot/sonata/internal/track"
)

func TestDirectCanResolve(t *testing.T) {
	b := NewDirectBackend()
	yes := []string{
		"https://files.example/song.mp3",
		"https://files.example/a/b/track.OGG",
		"http://radio.example/stream.m3u8",
		"https://cdn.example/audio.flac?token=abc",
	}
	no := []string{
		"https://example.com/page.html",
		"https://example.com/",
		"not a url",
		"ftp://example.com/song.mp3",
	}
	for _, q := range yes {
		if !b.CanResolve(q) {
			t.Errorf("CanResolve(%q) = false, want true", q)
		}
	}
	for _, q := range no {
		if b.CanResolve(q) {
			t.Errorf("CanResolve(%q) = true, want false", q)
		}
	}
}

func TestDirectResolve(t *testing.T) {
	b := NewDirectBackend()
	got, err := b.Resolve(context.Background(), "https://files.example/mixtape.mp3")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d tracks, want 1", len(got))
	}
	if got[0].Title != "mixtape.mp3" || got[0].Source != track.SourceDirect || got[0].IsLive {
		t.Errorf("unexpected track: %+v", got[0])
	}
}

func TestDirectResolveHLSIsLive(t *testing.T) {
	b := NewDirectBackend()
	got, err := b.Resolve(context.Background(), "https://radio.example/stream.m3u8")
	if err != nil {
		t.Fatal(err)
	}
	if !got[0].IsLive {
		t.Error("HLS playlist not marked live")
	}
}

func TestClassifyYtdlpErr(t *testing.T) {
	cases := []struct {
		msg  string
		kind track.ResolveKind
	}{
		{"ERROR: Video unavailable", track.ResolveNotFound},
		{"HTTP Error 404: Not Found", track.ResolveNotFound},
		{"ERROR: Unsupported URL: https://example.com", track.ResolveUnsupported},
		{"connection timed out", track.ResolveUpstreamUnavailable},
	}
	for _, tc := range cases {
		err := classifyYtdlpErr("q", errors.New(tc.msg))
		var rerr *track.ResolveError
		if !errors.As(err, &rerr) || rerr.Kind != tc.kind {
			t.Errorf("classifyYtdlpErr(%q) = %v, want kind %v", tc.msg, err, tc.kind)
		}
	}
}
