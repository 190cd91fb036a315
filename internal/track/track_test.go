package track

import (
	"errors"
	"testing"
	"time"
)

func TestContentKeySharedAcrossSessions(t *testing.T) {
	a := Track{SourceID: "dQw4w9WgXcQ", Source: SourceYouTube, RequestedBy: "u1", Platform: PlatformDiscord}
	b := Track{SourceID: "dQw4w9WgXcQ", Source: SourceYouTube, RequestedBy: "u2", Platform: PlatformTelegram}

	if a.ContentKey("bestaudio") != b.ContentKey("bestaudio") {
		t.Error("same content from different requesters must share a cache key")
	}
}

func TestContentKeyVariesByIdentity(t *testing.T) {
	base := Track{SourceID: "abc", Source: SourceYouTube}

	other := base
	other.SourceID = "xyz"
	if base.ContentKey("bestaudio") == other.ContentKey("bestaudio") {
		t.Error("different source IDs share a cache key")
	}

	other = base
	other.Source = SourceDirect
	if base.ContentKey("bestaudio") == other.ContentKey("bestaudio") {
		t.Error("different sources share a cache key")
	}

	if base.ContentKey("bestaudio") == base.ContentKey("worstaudio") {
		t.Error("different qualities share a cache key")
	}
}

func TestTrackString(t *testing.T) {
	withArtist := Track{Title: "Resonance", Artist: "Home", Duration: 3 * time.Minute}
	if got := withArtist.String(); got != "Home - Resonance" {
		t.Errorf("String() = %q", got)
	}
	bare := Track{Title: "Resonance"}
	if got := bare.String(); got != "Resonance" {
		t.Errorf("String() without artist = %q", got)
	}
}

func TestResolveErrorTemporary(t *testing.T) {
	if !(&ResolveError{Kind: ResolveUpstreamUnavailable}).Temporary() {
		t.Error("upstream unavailable should be temporary")
	}
	for _, k := range []ResolveKind{ResolveNotFound, ResolveUnsupported, ResolveDurationExceeded} {
		if (&ResolveError{Kind: k}).Temporary() {
			t.Errorf("%v should not be temporary", k)
		}
	}
}

func TestDownloadErrorRetryable(t *testing.T) {
	if !(&DownloadError{Kind: DownloadFailed}).Retryable() {
		t.Error("download failure should be retryable")
	}
	if (&DownloadError{Kind: StorageFull}).Retryable() {
		t.Error("storage full should not be retryable")
	}
	if (&DownloadError{Kind: TranscodeFailed}).Retryable() {
		t.Error("transcode failure should not be retryable")
	}
}

func TestErrorUnwrapping(t *testing.T) {
	inner := errors.New("connection reset")
	var err error = &DownloadError{Kind: DownloadFailed, Key: "k", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("DownloadError does not unwrap to its cause")
	}

	err = &StreamError{Track: "t", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("StreamError does not unwrap to its cause")
	}

	var derr *DownloadError
	wrapped := &ResolveError{Kind: ResolveNotFound, Query: "q"}
	if errors.As(error(wrapped), &derr) {
		t.Error("ResolveError matched as DownloadError")
	}
}
