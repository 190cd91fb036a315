package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	ytdlp "github.com/lrstanley/go-ytdlp"

	"github.com/sonatabot/sonata/internal/track"
)

var installOnce sync.Once

// YtdlpBackend resolves YouTube URLs and free-text searches via yt-dlp.
// It is also the resolver's fallback for plain search queries.
type YtdlpBackend struct {
	Format string
}

func NewYtdlpBackend() *YtdlpBackend {
	return &YtdlpBackend{Format: "ba[acodec^=opus]/ba[ext=m4a]/bestaudio/best"}
}

func (b *YtdlpBackend) Source() track.Source { return track.SourceYouTube }

func (b *YtdlpBackend) CanResolve(query string) bool {
	return strings.Contains(query, "youtube.com") ||
		strings.Contains(query, "youtu.be") ||
		strings.Contains(query, "music.youtube.")
}

func (b *YtdlpBackend) Resolve(ctx context.Context, query string) ([]track.Track, error) {
	installOnce.Do(func() {
		ytdlp.MustInstall(ctx, nil)
	})

	target := query
	if !isURL(query) {
		target = "ytsearch1:" + query
	}

	cmd := ytdlp.New().
		Format(b.Format).
		NoCheckCertificates().
		DumpJSON()
	if strings.Contains(target, "list=") {
		cmd = cmd.FlatPlaylist()
	} else {
		cmd = cmd.NoPlaylist()
	}

	res, err := cmd.Run(ctx, target)
	if err != nil {
		return nil, classifyYtdlpErr(query, err)
	}

	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, &track.ResolveError{Kind: track.ResolveUpstreamUnavailable, Query: query, Err: err}
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, &track.ResolveError{Kind: track.ResolveNotFound, Query: query}
	}

	ext := infos[0]
	if len(ext.Entries) > 0 {
		out := make([]track.Track, 0, len(ext.Entries))
		for _, e := range ext.Entries {
			if e == nil || e.ID == "" {
				continue
			}
			out = append(out, entryToTrack(e))
		}
		return out, nil
	}
	if ext.ID == "" {
		return nil, &track.ResolveError{Kind: track.ResolveNotFound, Query: query}
	}
	return []track.Track{entryToTrack(ext)}, nil
}

func entryToTrack(e *ytdlp.ExtractedInfo) track.Track {
	t := track.Track{
		SourceID: e.ID,
		Source:   track.SourceYouTube,
		Title:    strDeref(e.Title),
		Artist:   strDeref(e.Uploader),
		URL:      strDeref(e.WebpageURL),
		IsLive:   boolDeref(e.IsLive),
		Duration: time.Duration(floatDeref(e.Duration)) * time.Second,
	}
	if t.URL == "" {
		t.URL = "https://www.youtube.com/watch?v=" + e.ID
	}
	for _, th := range e.Thumbnails {
		if th != nil && th.URL != "" {
			t.Thumbnail = th.URL
			break
		}
	}
	return t
}

func classifyYtdlpErr(query string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Video unavailable"),
		strings.Contains(msg, "not available"),
		strings.Contains(msg, "404"):
		return &track.ResolveError{Kind: track.ResolveNotFound, Query: query, Err: err}
	case strings.Contains(msg, "Unsupported URL"):
		return &track.ResolveError{Kind: track.ResolveUnsupported, Query: query, Err: err}
	default:
		return &track.ResolveError{Kind: track.ResolveUpstreamUnavailable, Query: query, Err: err}
	}
}

func strDeref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func floatDeref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func boolDeref(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}
