package track

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Platform identifies the chat platform a request came from. Sessions are
// keyed by (Platform, ChannelID); there is no cross-platform sharing.
type Platform string

const (
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
)

// Source identifies the content source a track was resolved from.
type Source string

const (
	SourceYouTube Source = "youtube"
	SourceSpotify Source = "spotify"
	SourceDirect  Source = "direct"
)

// Track is a resolved, playable unit of audio. Immutable once created.
type Track struct {
	SourceID    string
	Source      Source
	Title       string
	Artist      string
	URL         string // canonical page or media URL
	Duration    time.Duration
	IsLive      bool
	Thumbnail   string
	RequestedBy string
	Platform    Platform
	EnqueuedAt  time.Time
}

// ContentKey derives the cache identity of a track's audio at a given
// quality. Tracks from different sessions requesting the same content share
// one cache entry.
func (t Track) ContentKey(quality string) string {
	sum := sha256.Sum256([]byte(string(t.Source) + ":" + t.SourceID + ":" + quality))
	return hex.EncodeToString(sum[:])
}

func (t Track) String() string {
	if t.Artist != "" {
		return fmt.Sprintf("%s - %s", t.Artist, t.Title)
	}
	return t.Title
}
