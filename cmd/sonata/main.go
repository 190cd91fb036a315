package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sonatabot/sonata/internal/bot"
	"github.com/sonatabot/sonata/internal/cache"
	"github.com/sonatabot/sonata/internal/config"
	"github.com/sonatabot/sonata/internal/gateway"
	"github.com/sonatabot/sonata/internal/gateway/discord"
	"github.com/sonatabot/sonata/internal/gateway/telegram"
	"github.com/sonatabot/sonata/internal/health"
	"github.com/sonatabot/sonata/internal/mux"
	"github.com/sonatabot/sonata/internal/ratelimit"
	"github.com/sonatabot/sonata/internal/repository"
	"github.com/sonatabot/sonata/internal/resolver"
	"github.com/sonatabot/sonata/internal/session"
	"github.com/sonatabot/sonata/internal/stream"
	"github.com/sonatabot/sonata/internal/track"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	setupLogging(cfg.LogLevel)

	db, err := repository.OpenDB(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	repo := repository.NewRepo(db)

	store := cache.NewManager(cache.Options{
		Dir:      cfg.DownloadDir,
		Budget:   cfg.CacheLimitBytes,
		Attempts: cfg.DownloadAttempts,
		Backoff:  cfg.DownloadBackoff,
		Repo:     repo,
	}, cache.NewDownloadFetcher(false))

	res, err := buildResolver(cfg)
	if err != nil {
		log.Fatal(err)
	}

	registry := session.NewRegistry(cfg.MaxQueueSize, cfg.DefaultVolume, cfg.AutoLeaveTimeout)

	discordGW := discord.New(cfg.DiscordToken)
	gateways := []gateway.Gateway{discordGW}
	if cfg.TelegramToken != "" {
		gateways = append(gateways, telegram.New(cfg.TelegramToken))
	}

	dialers := make(map[track.Platform]mux.Dialer, len(gateways))
	byPlatform := make(map[track.Platform]gateway.Gateway, len(gateways))
	for _, gw := range gateways {
		dialers[gw.Platform()] = gw
		byPlatform[gw.Platform()] = gw
	}

	engine := mux.New(mux.Config{
		Workers:      cfg.MaxConcurrentStreams,
		FailureLimit: cfg.MaxStreamFailures,
	}, &cacheSource{store}, stream.NewOpusStreamer(), dialers)

	engine.OnPlay = func(t track.Track, key session.Key) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rec := &repository.PlayRecord{
			Platform:        string(key.Platform),
			ChannelID:       key.ChannelID,
			UserID:          t.RequestedBy,
			Source:          string(t.Source),
			SourceID:        t.SourceID,
			Title:           t.String(),
			DurationSeconds: int(t.Duration.Seconds()),
			PlayedAt:        time.Now().Unix(),
		}
		if err := repo.AddPlay(ctx, rec); err != nil {
			slog.Warn("record play", "err", err)
		}
	}

	registry.SetListenerCheck(func(key session.Key) bool {
		gw, ok := byPlatform[key.Platform]
		return ok && gw.HasListeners(key.ChannelID)
	})
	registry.SetDestroyHook(func(s *session.Session) { engine.Release(s) })

	limiter := ratelimit.New(cfg.RateLimitEnabled, cfg.MaxCommandsPerMinute)
	app := bot.New(cfg, res, registry, engine, limiter, repo)
	engine.Notify = app.Notify

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	commands := make(chan gateway.Command, 64)
	for _, gw := range gateways {
		go func(gw gateway.Gateway) {
			if err := gw.Run(ctx, commands); err != nil && ctx.Err() == nil {
				slog.Error("gateway exited", "platform", gw.Platform(), "err", err)
				cancel()
			}
		}(gw)
	}

	engine.Run(ctx)
	go registry.Run(ctx)

	hs := health.NewServer(fmt.Sprintf(":%d", cfg.HealthPort), health.Stats{
		Sessions:      registry.Len,
		ActiveStreams: engine.ActiveStreams,
		CacheBytes:    store.TotalBytes,
		CacheEntries:  store.Len,
	})
	go func() {
		if err := hs.Run(ctx); err != nil {
			slog.Warn("health server", "err", err)
		}
	}()

	slog.Info("sonata started", "workers", cfg.MaxConcurrentStreams, "queue_max", cfg.MaxQueueSize)
	app.Run(ctx, commands)
	engine.Wait()
}

func buildResolver(cfg *config.Config) (*resolver.Resolver, error) {
	yt := resolver.NewYtdlpBackend()
	backends := []resolver.Backend{yt, resolver.NewDirectBackend()}
	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		sp, err := resolver.NewSpotifyBackend(cfg.SpotifyClientID, cfg.SpotifyClientSecret, yt, 0)
		if err != nil {
			return nil, err
		}
		backends = append(backends, sp)
	}
	return resolver.New(cfg.MaxSongDuration, yt, backends...), nil
}

// cacheSource narrows the cache manager's concrete handle to the engine's
// audio interface.
type cacheSource struct {
	m *cache.Manager
}

func (c *cacheSource) Acquire(ctx context.Context, t track.Track) (mux.Audio, error) {
	h, err := c.m.Acquire(ctx, t)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
