package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sonatabot/sonata/internal/config"
	"github.com/sonatabot/sonata/internal/gateway"
	"github.com/sonatabot/sonata/internal/mux"
	"github.com/sonatabot/sonata/internal/ratelimit"
	"github.com/sonatabot/sonata/internal/repository"
	"github.com/sonatabot/sonata/internal/resolver"
	"github.com/sonatabot/sonata/internal/session"
	"github.com/sonatabot/sonata/internal/track"
	"github.com/sonatabot/sonata/internal/utils"
)

const resolveTimeout = 30 * time.Second

// Bot turns chat commands into engine calls. One Bot serves every platform;
// the command carries its own reply path.
type Bot struct {
	cfg      *config.Config
	resolver *resolver.Resolver
	registry *session.Registry
	mux      *mux.Multiplexer
	limiter  *ratelimit.Limiter
	repo     *repository.Repo

	mu      sync.Mutex
	replies map[session.Key]func(string) // last reply path per session
}

func New(cfg *config.Config, res *resolver.Resolver, reg *session.Registry, m *mux.Multiplexer, lim *ratelimit.Limiter, repo *repository.Repo) *Bot {
	return &Bot{
		cfg: cfg, resolver: res, registry: reg, mux: m, limiter: lim, repo: repo,
		replies: make(map[session.Key]func(string)),
	}
}

// Notify pushes an engine-originated notice (stream failures, evictions from
// the admission queue) to wherever the session's last command came from.
func (b *Bot) Notify(key session.Key, text string) {
	b.mu.Lock()
	reply := b.replies[key]
	b.mu.Unlock()
	if reply != nil {
		reply(text)
	}
}

// Run consumes commands until ctx is done. Handlers run inline; resolution
// is the only slow path and it is bounded by resolveTimeout.
func (b *Bot) Run(ctx context.Context, commands <-chan gateway.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			b.handle(ctx, cmd)
		}
	}
}

func (b *Bot) handle(ctx context.Context, cmd gateway.Command) {
	if !b.limiter.Admit(cmd.UserID) {
		cmd.Reply("easy there, too many commands this minute. try again in a bit")
		return
	}

	key := session.Key{Platform: cmd.Platform, ChannelID: cmd.ChannelID}
	b.mu.Lock()
	b.replies[key] = cmd.Reply
	b.mu.Unlock()
	slog.Debug("command", "name", cmd.Name, "channel", key.String(), "user", cmd.UserID)

	switch cmd.Name {
	case "play", "p":
		b.cmdPlay(ctx, key, cmd)
	case "skip", "next":
		b.cmdSkip(key, cmd)
	case "stop":
		b.cmdStop(key, cmd)
	case "pause":
		b.cmdPause(key, cmd)
	case "resume", "unpause":
		b.cmdResume(key, cmd)
	case "queue", "q":
		b.cmdQueue(key, cmd)
	case "np", "nowplaying":
		b.cmdNowPlaying(key, cmd)
	case "seek":
		b.cmdSeek(key, cmd)
	case "shuffle":
		b.cmdShuffle(key, cmd)
	case "loop":
		b.cmdLoop(key, cmd)
	case "volume", "vol":
		b.cmdVolume(ctx, key, cmd)
	case "history":
		b.cmdHistory(ctx, key, cmd)
	case "help", "start":
		cmd.Reply(helpText)
	default:
		// Unknown commands stay silent so the bot can share a channel with
		// other bots using the same prefix.
	}
}

func (b *Bot) cmdPlay(ctx context.Context, key session.Key, cmd gateway.Command) {
	if cmd.Args == "" {
		cmd.Reply("give me a song name or link")
		return
	}

	rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	tracks, err := b.resolver.Resolve(rctx, cmd.Args, cmd.Platform, cmd.UserID)
	if err != nil {
		cmd.Reply(resolveMessage(err))
		return
	}

	s := b.registry.GetOrCreate(key)
	added := 0
	for _, t := range tracks {
		if err := s.Enqueue(t); err != nil {
			if errors.Is(err, track.ErrQueueFull) {
				break
			}
			cmd.Reply("couldn't queue that: " + err.Error())
			return
		}
		added++
	}
	switch {
	case added == 0:
		cmd.Reply(fmt.Sprintf("queue is full (max %d songs)", b.cfg.MaxQueueSize))
		return
	case added == 1:
		cmd.Reply("queued " + tracks[0].String())
	default:
		cmd.Reply(fmt.Sprintf("queued %d songs, starting with %s", added, tracks[0].String()))
	}
	if added < len(tracks) {
		cmd.Reply(fmt.Sprintf("%d songs didn't fit, the queue holds %d", len(tracks)-added, b.cfg.MaxQueueSize))
	}

	b.mux.Schedule(s)
}

func (b *Bot) cmdSkip(key session.Key, cmd gateway.Command) {
	if b.mux.Skip(key) {
		cmd.Reply("skipped :)")
		return
	}
	cmd.Reply("nothing is playing")
}

func (b *Bot) cmdStop(key session.Key, cmd gateway.Command) {
	s := b.registry.Peek(key)
	if s == nil {
		cmd.Reply("nothing is playing")
		return
	}
	b.mux.Stop(s)
	cmd.Reply("u betcha, stopped and cleared the queue")
}

func (b *Bot) cmdPause(key session.Key, cmd gateway.Command) {
	if b.mux.Pause(key) {
		cmd.Reply("paused")
		return
	}
	cmd.Reply("nothing is playing")
}

func (b *Bot) cmdResume(key session.Key, cmd gateway.Command) {
	s := b.registry.Peek(key)
	if s == nil || !b.mux.Resume(s) {
		cmd.Reply("nothing is paused")
		return
	}
	cmd.Reply("back at it")
}

func (b *Bot) cmdQueue(key session.Key, cmd gateway.Command) {
	s := b.registry.Peek(key)
	if s == nil {
		cmd.Reply("the queue is empty")
		return
	}
	cur := s.Current()
	pending := s.Pending()
	if cur == nil && len(pending) == 0 {
		cmd.Reply("the queue is empty")
		return
	}

	var sb strings.Builder
	if cur != nil {
		fmt.Fprintf(&sb, "now playing %s [%s]\n", cur.String(), utils.PrettyTime(cur.Duration))
	}
	for i, t := range pending {
		if i == 10 {
			fmt.Fprintf(&sb, "...and %d more\n", len(pending)-i)
			break
		}
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, t.String(), utils.PrettyTime(t.Duration))
	}
	cmd.Reply(strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) cmdNowPlaying(key session.Key, cmd gateway.Command) {
	s := b.registry.Peek(key)
	if s == nil || s.Current() == nil {
		cmd.Reply("nothing is playing")
		return
	}
	cur := s.Current()
	cmd.Reply(fmt.Sprintf("now playing %s [%s / %s]",
		cur.String(), utils.PrettyTime(s.Position()), utils.PrettyTime(cur.Duration)))
}

func (b *Bot) cmdSeek(key session.Key, cmd gateway.Command) {
	s := b.registry.Peek(key)
	if s == nil || s.Current() == nil {
		cmd.Reply("nothing is playing")
		return
	}
	cur := s.Current()
	if cur.IsLive {
		cmd.Reply("can't seek in a livestream")
		return
	}
	pos := utils.ParseDurationString(cmd.Args)
	if pos <= 0 {
		cmd.Reply("invalid time")
		return
	}
	if cur.Duration > 0 && pos > cur.Duration {
		cmd.Reply("can't seek past the end of the song")
		return
	}
	if !b.mux.Seek(s, pos) {
		cmd.Reply("seek failed")
		return
	}
	cmd.Reply("seeked to " + utils.PrettyTime(pos))
}

func (b *Bot) cmdShuffle(key session.Key, cmd gateway.Command) {
	s := b.registry.Peek(key)
	if s == nil || s.Size() == 0 {
		cmd.Reply("the queue is empty")
		return
	}
	s.Shuffle()
	cmd.Reply("shuffled :)")
}

func (b *Bot) cmdLoop(key session.Key, cmd gateway.Command) {
	s := b.registry.GetOrCreate(key)
	switch strings.ToLower(cmd.Args) {
	case "off", "":
		s.SetLoop(session.LoopOff)
		cmd.Reply("loop off")
	case "track", "song", "one":
		s.SetLoop(session.LoopTrack)
		cmd.Reply("looped :)")
	case "queue", "all":
		s.SetLoop(session.LoopQueue)
		cmd.Reply("looped queue :)")
	default:
		cmd.Reply("usage: loop off|track|queue")
	}
}

func (b *Bot) cmdVolume(ctx context.Context, key session.Key, cmd gateway.Command) {
	s := b.registry.GetOrCreate(key)
	if cmd.Args == "" {
		cmd.Reply(fmt.Sprintf("volume is %d%%", int(s.Volume()*100)))
		return
	}
	n, err := strconv.Atoi(strings.TrimSuffix(cmd.Args, "%"))
	if err != nil || n < 0 || n > 100 {
		cmd.Reply("usage: volume <0-100>")
		return
	}
	v := float64(n) / 100
	s.SetVolume(v)
	if err := b.repo.UpdateVolume(ctx, key.String(), v); err != nil {
		slog.Warn("persist volume", "channel", key.String(), "err", err)
	}
	cmd.Reply(fmt.Sprintf("volume set to %d%%, takes effect on the next song", n))
}

func (b *Bot) cmdHistory(ctx context.Context, key session.Key, cmd gateway.Command) {
	plays, err := b.repo.RecentPlays(ctx, string(key.Platform), key.ChannelID, 10)
	if err != nil {
		slog.Warn("history query", "channel", key.String(), "err", err)
		cmd.Reply("history is unavailable right now")
		return
	}
	if len(plays) == 0 {
		cmd.Reply("nothing has been played here yet")
		return
	}
	var sb strings.Builder
	sb.WriteString("recently played:\n")
	for i, p := range plays {
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, p.Title,
			utils.PrettyTime(time.Duration(p.DurationSeconds)*time.Second))
	}
	cmd.Reply(strings.TrimRight(sb.String(), "\n"))
}

func resolveMessage(err error) string {
	var re *track.ResolveError
	if errors.As(err, &re) {
		switch re.Kind {
		case track.ResolveNotFound:
			return "no songs found"
		case track.ResolveUnsupported:
			return "that link isn't from a source i know"
		case track.ResolveDurationExceeded:
			return "that song is longer than i'm allowed to play"
		case track.ResolveUpstreamUnavailable:
			return "the source is unavailable right now, try again in a bit"
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "the lookup timed out, try again"
	}
	return "couldn't make sense of that query"
}

const helpText = `commands:
play <url or search> - queue a song, playlist or album
queue - show the queue
np - show the current song
seek <time> - jump to a position in the current song
skip - skip the current song
pause / resume - pause or resume playback
stop - stop and clear the queue
shuffle - shuffle the pending queue
loop off|track|queue - set the loop mode
volume <0-100> - set playback volume
history - recently played songs`
