// Package engine implements the per-session playback state machine: extract
// + transcode + frame, one goroutine per live session. Commands are applied
// through Manager methods under each session's own mutex; there is no
// per-session command channel, and no session mutates another's state.
package engine

import (
	"sync"

	"audiorelay/internal/transcode"
)

// State is the closed-vocabulary session state machine named by §4.1. Kept
// as an enum rather than a set of booleans so the supervisor stays
// analyzable.
type State int

const (
	StateIdle State = iota
	StateExtracting
	StateTranscoding
	StateStreaming
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExtracting:
		return "extracting"
	case StateTranscoding:
		return "transcoding"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is the engine-side EngineSession of §3: one extract+transcode
// pipeline bound to a consumer-chosen id.
type Session struct {
	ID           string
	URL          string
	Format       transcode.Format
	StartAtSec   float64
	DurationHint float64

	mu        sync.Mutex
	state     State
	bytesSent int64
	paused    bool
	resumeCh  chan struct{}

	pipeline transcode.Pipeline
	cancel   func()
}

func newSession(id, url string, format transcode.Format, startAtSec, durationHint float64) *Session {
	return &Session{
		ID:           id,
		URL:          url,
		Format:       format,
		StartAtSec:   startAtSec,
		DurationHint: durationHint,
		state:        StateIdle,
		resumeCh:     make(chan struct{}, 1),
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BytesSent returns the number of audio payload bytes written so far.
func (s *Session) BytesSent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}

func (s *Session) addBytesSent(n int) {
	s.mu.Lock()
	s.bytesSent += int64(n)
	s.mu.Unlock()
}

func (s *Session) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Session) setPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
