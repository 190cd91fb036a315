package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getenvInt64(key string, def int64) int64 {
	v, err := strconv.ParseInt(getenv(key, ""), 10, 64)
	if err != nil {
		return def
	}
	return v
}

func getenvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(getenv(key, ""), 64)
	if err != nil {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getenvSeconds(key string, def int) time.Duration {
	return time.Duration(getenvInt(key, def)) * time.Second
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getenv("DATA_DIR", "./data")
	cfg := &Config{
		DiscordToken:  os.Getenv("DISCORD_TOKEN"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),

		SpotifyClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),

		DataDir:     dataDir,
		DownloadDir: getenv("DOWNLOAD_DIR", filepath.Join(dataDir, "downloads")),

		CacheLimitBytes: getenvInt64("CACHE_LIMIT", 2<<30),

		MaxQueueSize:         getenvInt("MAX_QUEUE_SIZE", 100),
		MaxSongDuration:      getenvSeconds("MAX_SONG_DURATION", 3600),
		DefaultVolume:        getenvFloat("DEFAULT_VOLUME", 0.5),
		AutoLeaveTimeout:     getenvSeconds("AUTO_LEAVE_TIMEOUT", 300),
		MaxConcurrentStreams: getenvInt("MAX_CONCURRENT_STREAMS", 10),
		MaxStreamFailures:    getenvInt("MAX_STREAM_FAILURES", 3),

		RateLimitEnabled:     getenvBool("RATE_LIMIT_ENABLED", true),
		MaxCommandsPerMinute: getenvInt("MAX_COMMANDS_PER_MINUTE", 30),

		DownloadAttempts: getenvInt("DOWNLOAD_ATTEMPTS", 3),
		DownloadBackoff:  getenvSeconds("DOWNLOAD_BACKOFF", 1),

		HealthPort: getenvInt("HEALTH_PORT", 8080),
		LogLevel:   getenv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	_ = os.MkdirAll(cfg.DataDir, 0o755)
	_ = os.MkdirAll(cfg.DownloadDir, 0o755)
	_ = os.MkdirAll(filepath.Join(cfg.DownloadDir, "tmp"), 0o755)
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return ErrConfig("DISCORD_TOKEN required")
	}
	if c.MaxQueueSize < 1 {
		return ErrConfig("MAX_QUEUE_SIZE must be at least 1")
	}
	if c.DefaultVolume < 0 || c.DefaultVolume > 1 {
		return ErrConfig("DEFAULT_VOLUME must be between 0 and 1")
	}
	if c.MaxConcurrentStreams < 1 {
		return ErrConfig("MAX_CONCURRENT_STREAMS must be at least 1")
	}
	if c.MaxCommandsPerMinute < 1 {
		return ErrConfig("MAX_COMMANDS_PER_MINUTE must be at least 1")
	}
	return nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
