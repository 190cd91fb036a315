package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	ytdlp "github.com/lrstanley/go-ytdlp"

	"github.com/sonatabot/sonata/internal/track"
)

var installOnce sync.Once

// DownloadFetcher is the production Fetcher: yt-dlp for YouTube tracks,
// plain HTTP for direct URLs, with optional normalization to Ogg/Opus so
// every cached file shares one container.
type DownloadFetcher struct {
	Client    *http.Client
	Format    string
	Normalize bool
}

func NewDownloadFetcher(normalize bool) *DownloadFetcher {
	return &DownloadFetcher{
		Client:    &http.Client{Timeout: 10 * time.Minute},
		Format:    "ba[acodec^=opus]/ba[ext=m4a]/bestaudio/best",
		Normalize: normalize,
	}
}

func (f *DownloadFetcher) Fetch(ctx context.Context, t track.Track, dst string) error {
	raw := dst
	if f.Normalize {
		raw = dst + ".src"
		defer os.Remove(raw)
	}

	var err error
	switch t.Source {
	case track.SourceDirect:
		err = f.fetchHTTP(ctx, t.URL, raw)
	default:
		err = f.fetchYtdlp(ctx, t.URL, raw)
	}
	if err != nil {
		return err
	}

	if f.Normalize {
		if err := transcode(ctx, raw, dst); err != nil {
			return &track.DownloadError{Kind: track.TranscodeFailed, Key: t.SourceID, Err: err}
		}
	}
	return nil
}

func (f *DownloadFetcher) fetchYtdlp(ctx context.Context, url, dst string) error {
	installOnce.Do(func() {
		ytdlp.MustInstall(ctx, nil)
	})

	cmd := ytdlp.New().
		Format(f.Format).
		NoPlaylist().
		NoCheckCertificates().
		Output(dst)

	if _, err := cmd.Run(ctx, url); err != nil {
		return fmt.Errorf("yt-dlp download: %w", err)
	}
	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("yt-dlp produced no file: %w", err)
	}
	return nil
}

func (f *DownloadFetcher) fetchHTTP(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status %d", resp.StatusCode)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

func transcode(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-y", "-i", src,
		"-vn", "-c:a", "libopus", "-b:a", "128k",
		"-f", "ogg", dst,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg: %w (%s)", err, string(out))
	}
	return nil
}
