package mux

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sonatabot/sonata/internal/gateway"
	"github.com/sonatabot/sonata/internal/session"
	"github.com/sonatabot/sonata/internal/track"
)

// Audio is a pinned reference to playable bytes, released when streaming
// ends.
type Audio interface {
	Path() string
	Release()
}

// Source supplies audio for tracks; the cache manager in production.
type Source interface {
	Acquire(ctx context.Context, t track.Track) (Audio, error)
}

// Streamer pushes one track's audio into a voice connection.
type Streamer interface {
	Stream(ctx context.Context, input string, t track.Track, seek time.Duration,
		volume float64, vc gateway.VoiceConn, progress func(time.Duration)) error
}

// Dialer opens voice connections for one platform.
type Dialer interface {
	Join(ctx context.Context, channelID string) (gateway.VoiceConn, error)
}

type Config struct {
	Workers      int           // MAX_CONCURRENT_STREAMS
	FailureLimit int           // consecutive failures before pausing a session
	IdleGrace    time.Duration // how long a drained worker waits for a new enqueue
	StopGrace    time.Duration // bound on abort latency
}

type event int

const (
	evSkip event = iota
	evStop
	evPause
	evResume
	evRestart // re-stream the current track from its saved position
)

type binding struct {
	s      *session.Session
	events chan event
}

func (b *binding) signal(ev event) {
	select {
	case b.events <- ev:
	default:
	}
}

// Multiplexer owns a fixed pool of streaming workers. Sessions are admitted
// FIFO; each worker binds one session and one voice connection at a time,
// so active connections can never exceed the worker count.
type Multiplexer struct {
	cfg      Config
	source   Source
	streamer Streamer
	dialers  map[track.Platform]Dialer

	// OnPlay is invoked when a track starts streaming; used to record play
	// history.
	OnPlay func(t track.Track, key session.Key)
	// Notify delivers user-visible notices about failures on a session.
	Notify func(key session.Key, text string)

	mu    sync.Mutex
	bound map[session.Key]*binding
	admit chan *binding

	active atomic.Int64
	wg     sync.WaitGroup
}

func New(cfg Config, source Source, streamer Streamer, dialers map[track.Platform]Dialer) *Multiplexer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.FailureLimit < 1 {
		cfg.FailureLimit = 3
	}
	if cfg.IdleGrace <= 0 {
		cfg.IdleGrace = 3 * time.Second
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 2 * time.Second
	}
	return &Multiplexer{
		cfg:      cfg,
		source:   source,
		streamer: streamer,
		dialers:  dialers,
		bound:    make(map[session.Key]*binding),
		admit:    make(chan *binding, 1024),
	}
}

// Run starts the worker pool. Workers exit when ctx is done; Wait blocks
// until they have.
func (m *Multiplexer) Run(ctx context.Context) {
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go func(slot int) {
			defer m.wg.Done()
			m.worker(ctx, slot)
		}(i)
	}
}

func (m *Multiplexer) Wait() { m.wg.Wait() }

// ActiveStreams reports how many workers are currently bound to a session.
func (m *Multiplexer) ActiveStreams() int { return int(m.active.Load()) }

// Schedule admits a session to the pool. Re-scheduling an already bound
// session just wakes its worker.
func (m *Multiplexer) Schedule(s *session.Session) {
	m.mu.Lock()
	if b, ok := m.bound[s.Key]; ok {
		m.mu.Unlock()
		b.signal(evResume)
		return
	}
	b := &binding{s: s, events: make(chan event, 8)}
	m.bound[s.Key] = b
	m.mu.Unlock()

	select {
	case m.admit <- b:
	default:
		// admission queue saturated; drop the binding so a later Schedule
		// can retry
		m.mu.Lock()
		delete(m.bound, s.Key)
		m.mu.Unlock()
		slog.Warn("admission queue full", "key", s.Key.String())
		m.notify(s.Key, "the bot is at capacity, try again shortly")
	}
}

// Skip aborts the current track; the worker advances to the next one.
func (m *Multiplexer) Skip(key session.Key) bool {
	if b := m.peek(key); b != nil {
		b.signal(evSkip)
		return true
	}
	return false
}

// Pause transitions the session to paused; its worker keeps the connection
// but stops streaming.
func (m *Multiplexer) Pause(key session.Key) bool {
	b := m.peek(key)
	if b == nil || !b.s.Pause() {
		return false
	}
	b.signal(evPause)
	return true
}

// Resume restarts a paused session from its saved position.
func (m *Multiplexer) Resume(s *session.Session) bool {
	if !s.Resume() {
		return false
	}
	if b := m.peek(s.Key); b != nil {
		b.signal(evResume)
		return true
	}
	m.Schedule(s)
	return true
}

// Seek restarts the current track from an absolute position. The streamer
// re-opens the input with a seek offset, so this only works on seekable
// tracks; callers reject livestreams.
func (m *Multiplexer) Seek(s *session.Session, pos time.Duration) bool {
	b := m.peek(s.Key)
	if b == nil || s.State() != session.StatePlaying {
		return false
	}
	s.SetPosition(pos)
	b.signal(evRestart)
	return true
}

// Stop clears the session and releases its connection immediately.
func (m *Multiplexer) Stop(s *session.Session) {
	s.Stop()
	if b := m.peek(s.Key); b != nil {
		b.signal(evStop)
	}
}

// Release is the registry's destroy hook: abort whatever the session's
// worker is doing.
func (m *Multiplexer) Release(s *session.Session) {
	if b := m.peek(s.Key); b != nil {
		b.signal(evStop)
	}
}

func (m *Multiplexer) peek(key session.Key) *binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bound[key]
}

func (m *Multiplexer) unbind(b *binding) {
	m.mu.Lock()
	delete(m.bound, b.s.Key)
	m.mu.Unlock()
}

func (m *Multiplexer) notify(key session.Key, text string) {
	if m.Notify != nil {
		m.Notify(key, text)
	}
}

func (m *Multiplexer) worker(ctx context.Context, slot int) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-m.admit:
			m.active.Add(1)
			m.drain(ctx, b)
			m.active.Add(-1)
			m.unbind(b)
			// A Schedule that raced with the drain winding down only signals
			// the old binding, and that signal is gone now. Re-admit the
			// session if it was left idle with tracks queued.
			if ctx.Err() == nil && b.s.State() == session.StateIdle && b.s.Size() > 0 {
				m.Schedule(b.s)
			}
		}
	}
}

// drain plays the session's queue until it runs dry, is stopped, or the
// worker is cancelled. Exactly one voice connection is held for the whole
// drain.
func (m *Multiplexer) drain(ctx context.Context, b *binding) {
	s := b.s
	dialer := m.dialers[s.Key.Platform]
	if dialer == nil {
		slog.Error("no dialer for platform", "platform", string(s.Key.Platform))
		s.Stop()
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	vc, err := dialer.Join(joinCtx, s.Key.ChannelID)
	cancel()
	if err != nil {
		slog.Error("voice join failed", "key", s.Key.String(), "err", err)
		m.notify(s.Key, "could not join the voice channel")
		s.Stop()
		return
	}
	defer vc.Close()

	cur, ok := s.BeginNext()
	if !ok {
		return
	}

	for {
		outcome, err := m.playOne(ctx, b, cur, vc)
		switch outcome {
		case outStopped:
			return
		case outCancelled:
			return
		case outPaused:
			if !m.waitResume(ctx, b) {
				return
			}
			// same track, restart from the saved position
			if c := s.Current(); c != nil {
				cur = *c
				continue
			}
			return
		case outRestarted:
			if c := s.Current(); c != nil {
				cur = *c
				continue
			}
			return
		}

		forced := outcome == outSkipped
		if err != nil && outcome == outDone {
			n := s.RecordFailure()
			slog.Warn("track failed", "key", s.Key.String(), "track", cur.String(), "failures", n, "err", err)
			m.notify(s.Key, "skipping "+cur.String()+": "+userMessage(err))
			if n >= m.cfg.FailureLimit {
				s.Pause()
				m.notify(s.Key, "playback paused after repeated failures, use resume to retry")
				if !m.waitResume(ctx, b) {
					return
				}
				s.ResetFailures()
				if c := s.Current(); c != nil {
					cur = *c
					continue
				}
			}
		} else if err == nil {
			s.ResetFailures()
		}

		next, ok := s.Advance(forced)
		if !ok {
			if !m.waitEnqueue(ctx, b) {
				return
			}
			next, ok = s.BeginNext()
			if !ok {
				return
			}
		}
		cur = next
	}
}

type outcome int

const (
	outDone outcome = iota // finished or failed
	outSkipped
	outStopped
	outPaused
	outRestarted // seek: same track again from the saved position
	outCancelled // worker shutdown
)

// playOne streams a single track while watching the control channel. Abort
// latency is bounded by StopGrace.
func (m *Multiplexer) playOne(ctx context.Context, b *binding, t track.Track, vc gateway.VoiceConn) (outcome, error) {
	trackCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resCh := make(chan error, 1)
	go func() {
		resCh <- m.streamTrack(trackCtx, b.s, t, vc)
	}()

	for {
		select {
		case err := <-resCh:
			if errors.Is(err, context.Canceled) {
				return outCancelled, nil
			}
			return outDone, err
		case ev := <-b.events:
			var out outcome
			switch ev {
			case evStop:
				out = outStopped
			case evSkip:
				out = outSkipped
			case evPause:
				out = outPaused
			case evRestart:
				out = outRestarted
			case evResume:
				continue
			}
			cancel()
			select {
			case <-resCh:
			case <-time.After(m.cfg.StopGrace):
				slog.Warn("stream abort exceeded grace", "key", b.s.Key.String())
			}
			return out, nil
		case <-ctx.Done():
			cancel()
			select {
			case <-resCh:
			case <-time.After(m.cfg.StopGrace):
			}
			return outCancelled, nil
		}
	}
}

func (m *Multiplexer) streamTrack(ctx context.Context, s *session.Session, t track.Track, vc gateway.VoiceConn) error {
	audio, err := m.source.Acquire(ctx, t)
	if err != nil {
		return err
	}
	defer audio.Release()

	if m.OnPlay != nil {
		m.OnPlay(t, s.Key)
	}

	seek := s.Position()
	// Drop progress ticks once the track context is cancelled so a dying
	// stream cannot clobber a position a seek just set.
	progress := func(d time.Duration) {
		if ctx.Err() == nil {
			s.SetPosition(d)
		}
	}
	return m.streamer.Stream(ctx, audio.Path(), t, seek, s.Volume(), vc, progress)
}

// waitResume blocks while the session is paused; the worker holds the
// connection. Returns false when the session should be released.
func (m *Multiplexer) waitResume(ctx context.Context, b *binding) bool {
	for {
		select {
		case ev := <-b.events:
			switch ev {
			case evResume:
				return true
			case evStop:
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
}

// waitEnqueue gives a drained session a grace period to pick up a new
// enqueue before the connection is released.
func (m *Multiplexer) waitEnqueue(ctx context.Context, b *binding) bool {
	timer := time.NewTimer(m.cfg.IdleGrace)
	defer timer.Stop()
	for {
		select {
		case ev := <-b.events:
			switch ev {
			case evResume:
				return true
			case evStop:
				return false
			}
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func userMessage(err error) string {
	var derr *track.DownloadError
	if errors.As(err, &derr) {
		return derr.Kind.String()
	}
	var rerr *track.ResolveError
	if errors.As(err, &rerr) {
		return rerr.Kind.String()
	}
	var serr *track.StreamError
	if errors.As(err, &serr) {
		return "playback error"
	}
	return "playback error"
}
