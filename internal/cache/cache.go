package cache

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sonatabot/sonata/internal/repository"
	"github.com/sonatabot/sonata/internal/track"
)

// Fetcher downloads the audio for a track into dst. Implementations may
// transcode; a failed transcode must surface as a TranscodeFailed
// DownloadError so it is not retried.
type Fetcher interface {
	Fetch(ctx context.Context, t track.Track, dst string) error
}

type entry struct {
	path       string
	size       int64
	lastAccess time.Time
	refs       int
}

// Manager is the content-addressed audio store shared by all sessions.
// Concurrent acquires for one content key collapse into a single download;
// entries are pinned by ref-count and evicted LRU-first once the byte
// budget is exceeded, never while pinned.
type Manager struct {
	dir      string
	budget   int64
	attempts int
	backoff  time.Duration
	quality  string
	fetch    Fetcher
	repo     *repository.Repo // optional; mirrors metadata across restarts

	mu      sync.Mutex
	entries map[string]*entry
	total   int64
	sf      singleflight.Group
}

type Options struct {
	Dir      string
	Budget   int64
	Attempts int
	Backoff  time.Duration
	Quality  string
	Repo     *repository.Repo
}

func NewManager(opts Options, fetch Fetcher) *Manager {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Quality == "" {
		opts.Quality = "bestaudio"
	}
	_ = os.MkdirAll(filepath.Join(opts.Dir, "tmp"), 0o755)
	m := &Manager{
		dir:      opts.Dir,
		budget:   opts.Budget,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		quality:  opts.Quality,
		fetch:    fetch,
		repo:     opts.Repo,
		entries:  make(map[string]*entry),
	}
	m.recover()
	return m
}

// recover repopulates the in-memory table from the metadata mirror, keeping
// only rows whose file still exists.
func (m *Manager) recover() {
	if m.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := m.repo.CacheList(ctx)
	if err != nil {
		slog.Warn("cache recovery failed", "err", err)
		return
	}
	for _, r := range rows {
		p := m.pathFor(r.Hash)
		info, err := os.Stat(p)
		if err != nil {
			_ = m.repo.CacheRemove(ctx, r.Hash)
			continue
		}
		m.entries[r.Hash] = &entry{
			path:       p,
			size:       info.Size(),
			lastAccess: time.Unix(r.AccessedAt, 0),
		}
		m.total += info.Size()
	}
	if len(m.entries) > 0 {
		slog.Info("cache recovered", "entries", len(m.entries), "bytes", m.total)
	}
}

func (m *Manager) pathFor(key string) string {
	return filepath.Join(m.dir, key)
}

func (m *Manager) tmpFor(key string) string {
	return filepath.Join(m.dir, "tmp", key)
}

// Handle is a scoped reference to cached audio bytes. Release decrements
// the entry's ref-count; entries with live handles are never evicted.
type Handle struct {
	m    *Manager
	key  string
	path string
	once sync.Once
}

func (h *Handle) Path() string { return h.path }

func (h *Handle) Release() {
	h.once.Do(func() {
		h.m.mu.Lock()
		if e, ok := h.m.entries[h.key]; ok && e.refs > 0 {
			e.refs--
		}
		h.m.mu.Unlock()
	})
}

// Acquire returns a pinned handle to the track's audio, downloading on a
// miss. Concurrent calls for the same content key perform exactly one
// underlying fetch.
func (m *Manager) Acquire(ctx context.Context, t track.Track) (*Handle, error) {
	key := t.ContentKey(m.quality)
	for {
		if h := m.tryPin(key); h != nil {
			if m.repo != nil {
				_ = m.repo.CacheTouch(ctx, key, 0, false)
			}
			return h, nil
		}

		_, err, _ := m.sf.Do(key, func() (any, error) {
			return nil, m.download(ctx, t, key)
		})
		if err != nil {
			var derr *track.DownloadError
			if errors.As(err, &derr) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &track.DownloadError{Kind: track.DownloadFailed, Key: key, Err: err}
		}
		// The entry can be evicted between the download completing and us
		// pinning it; loop in that rare case.
		if h := m.tryPin(key); h != nil {
			return h, nil
		}
	}
}

func (m *Manager) tryPin(key string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	e.refs++
	e.lastAccess = time.Now()
	return &Handle{m: m, key: key, path: e.path}
}

// download runs the bounded-retry fetch state machine, then commits the
// temp file atomically and inserts the entry.
func (m *Manager) download(ctx context.Context, t track.Track, key string) error {
	tmp := m.tmpFor(key)
	defer os.Remove(tmp)

	var lastErr error
	delay := m.backoff
	for attempt := 1; attempt <= m.attempts; attempt++ {
		lastErr = m.fetch.Fetch(ctx, t, tmp)
		if lastErr == nil {
			break
		}
		var derr *track.DownloadError
		if errors.As(lastErr, &derr) && !derr.Retryable() {
			return lastErr
		}
		if attempt == m.attempts {
			break
		}
		slog.Warn("download retry", "key", shortKey(key), "attempt", attempt, "err", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
	if lastErr != nil {
		return &track.DownloadError{Kind: track.DownloadFailed, Key: key, Err: lastErr}
	}

	info, err := os.Stat(tmp)
	if err != nil {
		return &track.DownloadError{Kind: track.DownloadFailed, Key: key, Err: err}
	}
	if info.Size() == 0 {
		return &track.DownloadError{Kind: track.DownloadFailed, Key: key, Err: errors.New("empty download")}
	}
	return m.commit(ctx, tmp, key, info.Size())
}

func (m *Manager) commit(ctx context.Context, tmp, key string, size int64) error {
	m.mu.Lock()
	if !m.makeRoomLocked(size) {
		m.mu.Unlock()
		return &track.DownloadError{Kind: track.StorageFull, Key: key}
	}
	// Reserve the bytes before dropping the lock, otherwise a concurrent
	// commit passes its own room check against a stale total and the pair
	// overshoots the byte limit.
	m.total += size
	m.mu.Unlock()

	final := m.pathFor(key)
	if err := os.Rename(tmp, final); err != nil {
		m.mu.Lock()
		m.total -= size
		m.mu.Unlock()
		return &track.DownloadError{Kind: track.DownloadFailed, Key: key, Err: err}
	}

	m.mu.Lock()
	m.entries[key] = &entry{path: final, size: size, lastAccess: time.Now()}
	m.mu.Unlock()

	if m.repo != nil {
		_ = m.repo.CacheTouch(ctx, key, size, true)
	}
	return nil
}

// makeRoomLocked evicts least-recently-used unpinned entries until size
// fits within the budget. Reports false when pinned entries make that
// impossible.
func (m *Manager) makeRoomLocked(size int64) bool {
	if size > m.budget {
		return false
	}
	for m.total+size > m.budget {
		victim := ""
		var oldest time.Time
		for k, e := range m.entries {
			if e.refs > 0 {
				continue
			}
			if victim == "" || e.lastAccess.Before(oldest) {
				victim = k
				oldest = e.lastAccess
			}
		}
		if victim == "" {
			return false
		}
		m.removeLocked(victim)
	}
	return true
}

func (m *Manager) removeLocked(key string) {
	e := m.entries[key]
	delete(m.entries, key)
	m.total -= e.size
	_ = os.Remove(e.path)
	if m.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = m.repo.CacheRemove(ctx, key)
		cancel()
	}
	slog.Debug("cache evicted", "key", shortKey(key), "bytes", e.size)
}

// TotalBytes reports the current cache footprint.
func (m *Manager) TotalBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Len reports the number of cached entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Contains reports whether key is cached, without pinning it.
func (m *Manager) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

func shortKey(k string) string {
	if len(k) > 12 {
		return k[:12]
	}
	return k
}
