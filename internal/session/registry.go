package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Registry owns every live session, one per key. Idle sessions with no
// remaining listeners are reaped after the auto-leave timeout.
type Registry struct {
	mu       sync.Mutex
	sessions map[Key]*Session

	maxQueue      int
	defaultVolume float64
	idleTimeout   time.Duration

	// hasListeners reports whether anyone is still in the session's voice
	// channel; nil means always occupied.
	hasListeners func(Key) bool
	// onDestroy lets the multiplexer release the voice connection when a
	// session is reaped or removed.
	onDestroy func(*Session)
}

func NewRegistry(maxQueue int, defaultVolume float64, idleTimeout time.Duration) *Registry {
	return &Registry{
		sessions:      make(map[Key]*Session),
		maxQueue:      maxQueue,
		defaultVolume: defaultVolume,
		idleTimeout:   idleTimeout,
	}
}

func (r *Registry) SetListenerCheck(fn func(Key) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasListeners = fn
}

func (r *Registry) SetDestroyHook(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDestroy = fn
}

// GetOrCreate returns the session for key, creating it on first enqueue.
func (r *Registry) GetOrCreate(key Key) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s
	}
	s := New(key, r.maxQueue, r.defaultVolume)
	r.sessions[key] = s
	return s
}

// Peek returns the session for key or nil.
func (r *Registry) Peek(key Key) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key]
}

// Remove stops and drops the session for key.
func (r *Registry) Remove(key Key) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	onDestroy := r.onDestroy
	r.mu.Unlock()

	if !ok {
		return
	}
	s.Stop()
	if onDestroy != nil {
		onDestroy(s)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep destroys idle sessions whose last activity is older than the
// auto-leave timeout and whose voice channel is empty. Returns how many
// were destroyed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var victims []*Session
	for key, s := range r.sessions {
		if s.State() != StateIdle {
			continue
		}
		if now.Sub(s.LastActive()) < r.idleTimeout {
			continue
		}
		if r.hasListeners != nil && r.hasListeners(key) {
			continue
		}
		victims = append(victims, s)
		delete(r.sessions, key)
	}
	onDestroy := r.onDestroy
	r.mu.Unlock()

	for _, s := range victims {
		s.Stop()
		if onDestroy != nil {
			onDestroy(s)
		}
		slog.Info("session reaped", "key", s.Key.String())
	}
	return len(victims)
}

// Run reaps idle sessions periodically until ctx is done, then drains and
// stops everything.
func (r *Registry) Run(ctx context.Context) {
	interval := r.idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Shutdown()
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// Shutdown stops every session and empties the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[Key]*Session)
	onDestroy := r.onDestroy
	r.mu.Unlock()

	for _, s := range all {
		s.Stop()
		if onDestroy != nil {
			onDestroy(s)
		}
	}
}
