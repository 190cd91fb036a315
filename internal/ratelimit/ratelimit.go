package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits commands per user against a rolling one-minute window,
// shared across platforms. When disabled it always admits.
type Limiter struct {
	enabled bool
	max     int
	window  time.Duration

	mu      sync.Mutex
	buckets map[string][]time.Time

	now func() time.Time // injected in tests
}

func New(enabled bool, maxPerMinute int) *Limiter {
	return &Limiter{
		enabled: enabled,
		max:     maxPerMinute,
		window:  time.Minute,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Admit reports whether the user may issue a command now. A denial has no
// side effect on the bucket and never touches other users' buckets.
func (l *Limiter) Admit(userID string) bool {
	if !l.enabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	ts := l.buckets[userID]
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.max {
		l.buckets[userID] = kept
		return false
	}
	l.buckets[userID] = append(kept, now)
	return true
}

// GC drops buckets with no recent activity. Called periodically so the map
// does not grow with every user ever seen.
func (l *Limiter) GC() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	for id, ts := range l.buckets {
		live := false
		for _, t := range ts {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.buckets, id)
		}
	}
}
