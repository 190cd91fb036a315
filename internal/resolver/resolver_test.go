package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sonatabot/sonata/internal/track"
)

type stubBackend struct {
	source  track.Source
	match   string // substring CanResolve matches on
	tracks  []track.Track
	err     error
	queries []string
}

func (b *stubBackend) Source() track.Source { return b.source }

func (b *stubBackend) CanResolve(query string) bool {
	return b.match != "" && strings.Contains(query, b.match)
}

func (b *stubBackend) Resolve(ctx context.Context, query string) ([]track.Track, error) {
	b.queries = append(b.queries, query)
	if b.err != nil {
		return nil, b.err
	}
	return b.tracks, nil
}

func stubTrack(id string, d time.Duration) track.Track {
	return track.Track{SourceID: id, Source: track.SourceYouTube, Title: id, Duration: d}
}

func TestResolveStampsRequester(t *testing.T) {
	fallback := &stubBackend{source: track.SourceYouTube, tracks: []track.Track{stubTrack("a", time.Minute)}}
	r := New(time.Hour, fallback)

	got, err := r.Resolve(context.Background(), "some song", track.PlatformTelegram, "user-7")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d tracks, want 1", len(got))
	}
	if got[0].RequestedBy != "user-7" || got[0].Platform != track.PlatformTelegram {
		t.Errorf("track not stamped: requestedBy=%q platform=%q", got[0].RequestedBy, got[0].Platform)
	}
}

func TestPlainTextGoesToFallback(t *testing.T) {
	urlBackend := &stubBackend{source: track.SourceDirect, match: ".mp3"}
	fallback := &stubBackend{source: track.SourceYouTube, tracks: []track.Track{stubTrack("a", time.Minute)}}
	r := New(time.Hour, fallback, urlBackend)

	if _, err := r.Resolve(context.Background(), "never gonna give you up", track.PlatformDiscord, "u"); err != nil {
		t.Fatal(err)
	}
	if len(fallback.queries) != 1 {
		t.Errorf("fallback saw %d queries, want 1", len(fallback.queries))
	}
	if len(urlBackend.queries) != 0 {
		t.Errorf("URL backend consulted for plain text")
	}
}

func TestURLDispatchesToMatchingBackend(t *testing.T) {
	direct := &stubBackend{source: track.SourceDirect, match: ".mp3",
		tracks: []track.Track{stubTrack("f", time.Minute)}}
	fallback := &stubBackend{source: track.SourceYouTube, match: "youtube.com",
		tracks: []track.Track{stubTrack("y", time.Minute)}}
	r := New(time.Hour, fallback, fallback, direct)

	got, err := r.Resolve(context.Background(), "https://files.example/song.mp3", track.PlatformDiscord, "u")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].SourceID != "f" {
		t.Errorf("wrong backend answered: %s", got[0].SourceID)
	}
}

func TestUnmatchedURLIsUnsupported(t *testing.T) {
	fallback := &stubBackend{source: track.SourceYouTube, match: "youtube.com"}
	r := New(time.Hour, fallback, fallback)

	_, err := r.Resolve(context.Background(), "https://example.com/page", track.PlatformDiscord, "u")
	var rerr *track.ResolveError
	if !errors.As(err, &rerr) || rerr.Kind != track.ResolveUnsupported {
		t.Fatalf("expected Unsupported, got %v", err)
	}
	if len(fallback.queries) != 0 {
		t.Error("unsupported URL fell through to search")
	}
}

func TestEmptyQueryNotFound(t *testing.T) {
	r := New(time.Hour, &stubBackend{source: track.SourceYouTube})
	_, err := r.Resolve(context.Background(), "   ", track.PlatformDiscord, "u")
	var rerr *track.ResolveError
	if !errors.As(err, &rerr) || rerr.Kind != track.ResolveNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestNoResultsNotFound(t *testing.T) {
	r := New(time.Hour, &stubBackend{source: track.SourceYouTube})
	_, err := r.Resolve(context.Background(), "obscure query", track.PlatformDiscord, "u")
	var rerr *track.ResolveError
	if !errors.As(err, &rerr) || rerr.Kind != track.ResolveNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDurationLimitSingleTrack(t *testing.T) {
	fallback := &stubBackend{source: track.SourceYouTube,
		tracks: []track.Track{stubTrack("long", 2 * time.Hour)}}
	r := New(time.Hour, fallback)

	_, err := r.Resolve(context.Background(), "ten hour loop", track.PlatformDiscord, "u")
	var rerr *track.ResolveError
	if !errors.As(err, &rerr) || rerr.Kind != track.ResolveDurationExceeded {
		t.Fatalf("expected DurationExceeded, got %v", err)
	}
}

func TestDurationLimitDropsPlaylistEntries(t *testing.T) {
	fallback := &stubBackend{source: track.SourceYouTube, tracks: []track.Track{
		stubTrack("ok1", 3 * time.Minute),
		stubTrack("long", 2 * time.Hour),
		stubTrack("ok2", 4 * time.Minute),
	}}
	r := New(time.Hour, fallback)

	got, err := r.Resolve(context.Background(), "some playlist", track.PlatformDiscord, "u")
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, tr := range got {
		ids = append(ids, tr.SourceID)
	}
	if diff := cmp.Diff([]string{"ok1", "ok2"}, ids); diff != "" {
		t.Errorf("kept tracks (-want +got):\n%s", diff)
	}
}

func TestLiveStreamsExemptFromDurationLimit(t *testing.T) {
	live := stubTrack("live", 0)
	live.IsLive = true
	live.Duration = 100 * time.Hour // some extractors report absurd values for live
	fallback := &stubBackend{source: track.SourceYouTube, tracks: []track.Track{live}}
	r := New(time.Hour, fallback)

	got, err := r.Resolve(context.Background(), "lofi radio", track.PlatformDiscord, "u")
	if err != nil {
		t.Fatalf("live stream rejected by duration limit: %v", err)
	}
	if len(got) != 1 || !got[0].IsLive {
		t.Errorf("live track not returned: %+v", got)
	}
}

func TestBackendErrorPassedThrough(t *testing.T) {
	wantErr := &track.ResolveError{Kind: track.ResolveUpstreamUnavailable, Query: "q"}
	fallback := &stubBackend{source: track.SourceYouTube, err: wantErr}
	r := New(time.Hour, fallback)

	_, err := r.Resolve(context.Background(), "q", track.PlatformDiscord, "u")
	var rerr *track.ResolveError
	if !errors.As(err, &rerr) || rerr.Kind != track.ResolveUpstreamUnavailable {
		t.Fatalf("expected UpstreamUnavailable passthrough, got %v", err)
	}
	if !rerr.Temporary() {
		t.Error("UpstreamUnavailable should be temporary")
	}
}

func TestSpotifyURIDispatch(t *testing.T) {
	sp := &stubBackend{source: track.SourceSpotify, match: "spotify",
		tracks: []track.Track{stubTrack("s", time.Minute)}}
	fallback := &stubBackend{source: track.SourceYouTube}
	r := New(time.Hour, fallback, sp)

	got, err := r.Resolve(context.Background(), "spotify:track:123abc", track.PlatformDiscord, "u")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].SourceID != "s" {
		t.Errorf("spotify URI not routed to the spotify backend")
	}
	if len(fallback.queries) != 0 {
		t.Error("spotify URI treated as search text")
	}
}
