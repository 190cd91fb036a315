package config

import "time"

type Config struct {
	DiscordToken  string
	TelegramToken string // empty disables the Telegram gateway

	SpotifyClientID     string
	SpotifyClientSecret string

	DataDir     string
	DownloadDir string

	CacheLimitBytes int64

	MaxQueueSize         int
	MaxSongDuration      time.Duration
	DefaultVolume        float64 // 0.0 - 1.0
	AutoLeaveTimeout     time.Duration
	MaxConcurrentStreams int
	MaxStreamFailures    int // consecutive stream failures before a session is paused

	RateLimitEnabled     bool
	MaxCommandsPerMinute int

	DownloadAttempts int
	DownloadBackoff  time.Duration

	HealthPort int
	LogLevel   string
}
