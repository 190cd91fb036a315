package gateway

import (
	"context"

	"github.com/sonatabot/sonata/internal/track"
)

// Command is a parsed chat command delivered by a platform gateway.
type Command struct {
	Platform  track.Platform
	ChannelID string // session key channel: guild for Discord, chat for Telegram
	UserID    string
	Name      string
	Args      string

	// Reply sends a user-visible notice back where the command came from.
	Reply func(text string)
}

// VoiceConn is one live voice connection. At most one worker streams into
// it at a time.
type VoiceConn interface {
	// WriteOpus delivers one 20 ms Opus packet. It must respect ctx so an
	// aborting worker is not stuck on a dead connection.
	WriteOpus(ctx context.Context, pkt []byte) error
	Close() error
}

// Gateway is the platform collaborator boundary: it feeds commands in and
// hands out voice connections.
type Gateway interface {
	Platform() track.Platform
	// Run connects to the platform and pushes parsed commands until ctx is
	// done.
	Run(ctx context.Context, commands chan<- Command) error
	// Join opens the voice connection for a session channel.
	Join(ctx context.Context, channelID string) (VoiceConn, error)
	// HasListeners reports whether non-bot users remain in the session's
	// voice channel; idle sessions without listeners get reaped.
	HasListeners(channelID string) bool
}
