package session

import (
	"sync"
	"time"

	"github.com/sonatabot/sonata/internal/track"
	"github.com/sonatabot/sonata/internal/utils"
)

type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	}
	return "idle"
}

type LoopMode int

const (
	LoopOff LoopMode = iota
	LoopTrack
	LoopQueue
)

// Key identifies a session. One session exists per (platform, channel).
type Key struct {
	Platform  track.Platform
	ChannelID string
}

func (k Key) String() string { return string(k.Platform) + ":" + k.ChannelID }

// Session holds the playback state for one voice channel on one platform.
// The queue is strict FIFO; the capacity cap counts the pending queue plus
// the currently playing track.
type Session struct {
	Key Key

	mu         sync.Mutex
	state      State
	pending    []track.Track
	current    *track.Track
	volume     float64
	loop       LoopMode
	position   time.Duration
	maxQueue   int
	lastActive time.Time
	failStreak int
}

func New(key Key, maxQueue int, defaultVolume float64) *Session {
	return &Session{
		Key:        key,
		state:      StateIdle,
		volume:     clampVolume(defaultVolume),
		maxQueue:   maxQueue,
		lastActive: time.Now(),
	}
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Enqueue appends a track. It fails with track.ErrQueueFull at capacity and
// never mutates the queue in that case. The session state is unchanged.
func (s *Session) Enqueue(t track.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sizeLocked() >= s.maxQueue {
		return track.ErrQueueFull
	}
	t.EnqueuedAt = time.Now()
	s.pending = append(s.pending, t)
	s.lastActive = time.Now()
	return nil
}

func (s *Session) sizeLocked() int {
	n := len(s.pending)
	if s.current != nil {
		n++
	}
	return n
}

// Size reports how many tracks the session currently owns, including the
// one playing.
func (s *Session) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeLocked()
}

// BeginNext promotes the head of the queue to current and marks the session
// playing. Used by the multiplexer worker when it starts draining. If a
// track is already current (resuming from pause), it is returned as-is.
func (s *Session) BeginNext() (track.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		if len(s.pending) == 0 {
			s.state = StateIdle
			return track.Track{}, false
		}
		t := s.pending[0]
		s.pending = s.pending[1:]
		s.current = &t
		s.position = 0
	}
	s.state = StatePlaying
	s.lastActive = time.Now()
	return *s.current, true
}

// Advance moves past the finished (or skipped) track, honoring the loop
// mode. force bypasses track-looping so a skip always moves on. It returns
// the next track and whether one exists; with none left the session goes
// idle.
func (s *Session) Advance(force bool) (track.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()

	if s.current != nil {
		switch {
		case s.loop == LoopTrack && !force:
			s.position = 0
			s.state = StatePlaying
			return *s.current, true
		case s.loop == LoopQueue:
			s.pending = append(s.pending, *s.current)
		}
	}
	s.current = nil
	s.position = 0

	if len(s.pending) == 0 {
		s.state = StateIdle
		return track.Track{}, false
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	s.current = &t
	s.state = StatePlaying
	return t, true
}

// Pause transitions Playing -> Paused keeping the current track and
// position.
func (s *Session) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		return false
	}
	s.state = StatePaused
	s.lastActive = time.Now()
	return true
}

// Resume transitions Paused -> Playing.
func (s *Session) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused || s.current == nil {
		return false
	}
	s.state = StatePlaying
	s.lastActive = time.Now()
	return true
}

// Stop clears the queue and current track and goes idle, in any state.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.pending = nil
	s.current = nil
	s.position = 0
	s.loop = LoopOff
	s.failStreak = 0
	s.lastActive = time.Now()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Current() *track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// Pending returns a copy of the queued tracks, excluding the current one.
func (s *Session) Pending() []track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]track.Track, len(s.pending))
	copy(out, s.pending)
	return out
}

func (s *Session) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = clampVolume(v)
}

func (s *Session) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *Session) SetLoop(m LoopMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = m
}

func (s *Session) Loop() LoopMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

// Shuffle randomizes the pending queue; the playing track is untouched.
func (s *Session) Shuffle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	utils.ShuffleSlice(s.pending)
}

// SetPosition records playback progress so a resume can seek back to it.
func (s *Session) SetPosition(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = d
}

func (s *Session) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// RecordFailure bumps the consecutive-failure streak and returns it.
func (s *Session) RecordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStreak++
	return s.failStreak
}

func (s *Session) ResetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStreak = 0
}
