package resolver

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/sonatabot/sonata/internal/track"
)

var audioExts = map[string]bool{
	".mp3": true, ".ogg": true, ".opus": true, ".m4a": true,
	".flac": true, ".wav": true, ".aac": true, ".m3u8": true,
}

// DirectBackend accepts URLs that point straight at an audio file or HLS
// playlist. No metadata lookup happens; title falls back to the file name
// and the duration is unknown, so the cap cannot apply.
type DirectBackend struct{}

func NewDirectBackend() *DirectBackend { return &DirectBackend{} }

func (b *DirectBackend) Source() track.Source { return track.SourceDirect }

func (b *DirectBackend) CanResolve(query string) bool {
	u, err := url.Parse(query)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return audioExts[strings.ToLower(path.Ext(u.Path))]
}

func (b *DirectBackend) Resolve(ctx context.Context, query string) ([]track.Track, error) {
	u, err := url.Parse(query)
	if err != nil {
		return nil, &track.ResolveError{Kind: track.ResolveUnsupported, Query: query, Err: err}
	}
	name := path.Base(u.Path)
	live := strings.EqualFold(path.Ext(u.Path), ".m3u8")
	return []track.Track{{
		SourceID: query,
		Source:   track.SourceDirect,
		Title:    name,
		URL:      query,
		IsLive:   live,
	}}, nil
}
