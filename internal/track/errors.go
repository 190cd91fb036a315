package track

import (
	"errors"
	"fmt"
)

// ResolveKind classifies why a query could not be resolved to a track.
type ResolveKind int

const (
	ResolveNotFound ResolveKind = iota
	ResolveUnsupported
	ResolveDurationExceeded
	ResolveUpstreamUnavailable
)

func (k ResolveKind) String() string {
	switch k {
	case ResolveNotFound:
		return "not found"
	case ResolveUnsupported:
		return "unsupported source"
	case ResolveDurationExceeded:
		return "duration exceeds limit"
	case ResolveUpstreamUnavailable:
		return "upstream unavailable"
	}
	return "resolution failed"
}

// ResolveError is returned by resolver backends. Only the
// ResolveUpstreamUnavailable kind is transient and worth retrying.
type ResolveError struct {
	Kind  ResolveKind
	Query string
	Err   error
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %q: %s: %v", e.Query, e.Kind, e.Err)
	}
	return fmt.Sprintf("resolve %q: %s", e.Query, e.Kind)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Temporary reports whether the caller may retry with backoff.
func (e *ResolveError) Temporary() bool { return e.Kind == ResolveUpstreamUnavailable }

// DownloadKind classifies download/cache failures.
type DownloadKind int

const (
	DownloadFailed DownloadKind = iota
	StorageFull
	TranscodeFailed
)

func (k DownloadKind) String() string {
	switch k {
	case DownloadFailed:
		return "download failed"
	case StorageFull:
		return "storage full"
	case TranscodeFailed:
		return "transcode failed"
	}
	return "download error"
}

// DownloadError is returned by the cache manager. DownloadFailed is retried
// internally up to the configured attempt bound before surfacing here.
type DownloadError struct {
	Kind DownloadKind
	Key  string
	Err  error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acquire %s: %s: %v", shortKey(e.Key), e.Kind, e.Err)
	}
	return fmt.Sprintf("acquire %s: %s", shortKey(e.Key), e.Kind)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Retryable reports whether another acquire attempt could succeed later.
// TranscodeFailed is fatal for the track; StorageFull is a capacity
// condition, not a per-track one.
func (e *DownloadError) Retryable() bool { return e.Kind == DownloadFailed }

func shortKey(k string) string {
	if len(k) > 12 {
		return k[:12]
	}
	return k
}

// ErrQueueFull is returned by Session.Enqueue when the per-session queue is
// at its configured capacity. The queue is never mutated in that case.
var ErrQueueFull = errors.New("queue is full")

// StreamError wraps a transient write or codec failure while streaming a
// track into a voice connection. The track is skipped, not retried.
type StreamError struct {
	Track string
	Err   error
}

func (e *StreamError) Error() string { return fmt.Sprintf("stream %q: %v", e.Track, e.Err) }

func (e *StreamError) Unwrap() error { return e.Err }
