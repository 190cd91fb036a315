package resolver

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sonatabot/sonata/internal/track"
)

// Backend resolves queries for one content source.
type Backend interface {
	Source() track.Source
	// CanResolve reports whether the query carries this backend's source
	// tag (URL shape or URI scheme).
	CanResolve(query string) bool
	// Resolve turns the query into playable tracks. A playlist query may
	// yield several.
	Resolve(ctx context.Context, query string) ([]track.Track, error)
}

// Resolver dispatches a query to the matching backend and enforces the
// duration limit before returning success. Plain search text falls through
// to the fallback backend.
type Resolver struct {
	backends    []Backend
	fallback    Backend
	maxDuration time.Duration
	limiter     *rate.Limiter // paces upstream metadata lookups
}

func New(maxDuration time.Duration, fallback Backend, backends ...Backend) *Resolver {
	return &Resolver{
		backends:    backends,
		fallback:    fallback,
		maxDuration: maxDuration,
		limiter:     rate.NewLimiter(rate.Limit(5), 10),
	}
}

// Resolve maps a user query to tracks stamped with the requesting user and
// platform. Tracks longer than the configured maximum never resolve
// successfully; over-length playlist entries are dropped.
func (r *Resolver) Resolve(ctx context.Context, query string, platform track.Platform, requestedBy string) ([]track.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &track.ResolveError{Kind: track.ResolveNotFound, Query: query}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	backend := r.pick(query)
	if backend == nil {
		return nil, &track.ResolveError{Kind: track.ResolveUnsupported, Query: query}
	}

	tracks, err := backend.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, &track.ResolveError{Kind: track.ResolveNotFound, Query: query}
	}

	kept := tracks[:0]
	for _, t := range tracks {
		if r.maxDuration > 0 && !t.IsLive && t.Duration > r.maxDuration {
			continue
		}
		t.RequestedBy = requestedBy
		t.Platform = platform
		kept = append(kept, t)
	}
	if len(kept) == 0 {
		return nil, &track.ResolveError{Kind: track.ResolveDurationExceeded, Query: query}
	}
	return kept, nil
}

func (r *Resolver) pick(query string) Backend {
	if isURL(query) || strings.HasPrefix(query, "spotify:") {
		for _, b := range r.backends {
			if b.CanResolve(query) {
				return b
			}
		}
		return nil
	}
	return r.fallback
}

func isURL(q string) bool {
	return strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://")
}
