package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"audiorelay/internal/buffer"
	"audiorelay/internal/observability"
	"audiorelay/internal/platform"
	"audiorelay/internal/transcode"
)

// ErrSessionNotFound is returned by Pause/Resume/Status for an unknown id.
var ErrSessionNotFound = errors.New("session not found")

// FrameSink is the transport-side contract the engine writes frames and
// events through. Implemented by internal/transport.Socket; kept as an
// interface here so engine never imports transport.
type FrameSink interface {
	WriteFrame(sessionID string, payload []byte) error
	SendEvent(sessionID, eventType, message string)
}

// Manager owns every Session, enforcing at most one active pipeline per
// session id, and dispatches frames/events to sink.
type Manager struct {
	registry   *platform.Registry
	sink       FrameSink
	log        zerolog.Logger
	metrics    *observability.Metrics
	bitrateBps int

	mu       chanMutex
	sessions map[string]*Session
	ctx      context.Context
}

// chanMutex is a one-slot channel used as a plain exclusive lock. It must be
// built with newChanMutex (New does this); the zero value blocks on Lock.
type chanMutex struct{ c chan struct{} }

func newChanMutex() chanMutex {
	m := chanMutex{c: make(chan struct{}, 1)}
	m.c <- struct{}{}
	return m
}
func (m chanMutex) Lock()   { <-m.c }
func (m chanMutex) Unlock() { m.c <- struct{}{} }

// New creates a session manager bound to a platform registry and the
// transport sink it streams frames/events to. bitrateBps configures the
// transcoder and the internal pacing buffer; 0 falls back to
// transcode.DefaultConfig()'s bitrate.
func New(ctx context.Context, registry *platform.Registry, sink FrameSink, log zerolog.Logger, metrics *observability.Metrics, bitrateBps int) *Manager {
	if bitrateBps <= 0 {
		bitrateBps = transcode.DefaultConfig().Bitrate
	}
	return &Manager{
		registry:   registry,
		sink:       sink,
		log:        log,
		metrics:    metrics,
		bitrateBps: bitrateBps,
		mu:         newChanMutex(),
		sessions:   make(map[string]*Session),
		ctx:        ctx,
	}
}

// Play starts a new pipeline for sessionID, stopping any pipeline already
// bound to that id first (§4.1: previous pipeline bound to sessionId is
// stopped first; at most one active pipeline per id).
func (m *Manager) Play(sessionID, url string, format transcode.Format, startAtSec, durationHint float64) error {
	m.mu.Lock()
	if existing, ok := m.sessions[sessionID]; ok {
		m.log.Info().Str("session_id", shortID(sessionID)).Msg("stopping prior pipeline for replay")
		existing.stop()
		delete(m.sessions, sessionID)
		if m.metrics != nil {
			m.metrics.SessionsActive.Dec()
		}
	}

	session := newSession(sessionID, url, format, startAtSec, durationHint)
	m.sessions[sessionID] = session
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionsActive.Inc()
	}

	go m.run(session)
	return nil
}

// Stop is idempotent: ok regardless of current state.
func (m *Manager) Stop(sessionID string) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if session != nil {
		session.stop()
		if m.metrics != nil {
			m.metrics.SessionsActive.Dec()
		}
	}
}

// Pause flips the pause gate without tearing down the subprocess.
func (m *Manager) Pause(sessionID string) error {
	session := m.get(sessionID)
	if session == nil {
		return ErrSessionNotFound
	}
	session.mu.Lock()
	if session.paused {
		session.mu.Unlock()
		return nil
	}
	session.paused = true
	pipeline := session.pipeline
	session.mu.Unlock()

	if pipeline != nil {
		pipeline.Pause()
	}
	return nil
}

// Resume does NOT re-extract; it flips the gate and signals the streaming
// goroutine to keep reading from the pipeline.
func (m *Manager) Resume(sessionID string) error {
	session := m.get(sessionID)
	if session == nil {
		return ErrSessionNotFound
	}
	session.mu.Lock()
	if !session.paused {
		session.mu.Unlock()
		return nil
	}
	pipeline := session.pipeline
	session.paused = false
	session.mu.Unlock()

	if pipeline != nil {
		pipeline.Resume()
	}
	select {
	case session.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Status reports bytesSent and state for sessionID.
func (m *Manager) Status(sessionID string) (State, int64, error) {
	session := m.get(sessionID)
	if session == nil {
		return StateIdle, 0, ErrSessionNotFound
	}
	return session.State(), session.BytesSent(), nil
}

// ActiveCount returns the number of tracked sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StreamingCount returns the number of sessions currently streaming.
func (m *Manager) StreamingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.sessions {
		if s.State() == StateStreaming {
			count++
		}
	}
	return count
}

func (m *Manager) get(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

// run is the one-goroutine-per-session read-encode-write loop: extract,
// transcode, then frame each chunk onto the sink until EOF, error, or stop.
func (m *Manager) run(session *Session) {
	ctx, cancel := context.WithCancel(m.ctx)
	session.mu.Lock()
	session.cancel = cancel
	session.mu.Unlock()

	session.setState(StateExtracting)
	log := m.log.With().Str("session_id", shortID(session.ID)).Logger()
	log.Info().Str("url", session.URL).Msg("extracting")

	extractor := m.registry.FindExtractor(session.URL)
	if extractor == nil {
		m.fail(session, "unsupported URL")
		return
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	streamURL, err := extractor.ExtractStreamURL(ctx, session.URL)
	if err != nil {
		m.fail(session, fmt.Sprintf("extraction failed: %v", err))
		return
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	session.setState(StateTranscoding)
	tcfg := transcode.DefaultConfig()
	tcfg.Bitrate = m.bitrateBps
	pipeline := transcode.New(tcfg, session.Format)
	if tagger, ok := pipeline.(interface{ SetSessionID(string) }); ok {
		tagger.SetSessionID(session.ID)
	}
	if logger, ok := pipeline.(interface{ SetLogger(zerolog.Logger) }); ok {
		logger.SetLogger(log)
	}

	session.mu.Lock()
	session.pipeline = pipeline
	session.mu.Unlock()

	if err := pipeline.Start(ctx, streamURL, session.Format, session.StartAtSec); err != nil {
		m.fail(session, fmt.Sprintf("transcode failed: %v", err))
		return
	}

	session.setState(StateStreaming)
	m.sink.SendEvent(session.ID, "ready", "")
	if m.metrics != nil {
		m.metrics.SessionsStarted.WithLabelValues("started").Inc()
	}

	m.stream(ctx, session, pipeline)
}

// stream relays pipeline output frames to the sink, honoring the pause gate
// by withholding reads (the channel is simply not drained) rather than
// signaling the subprocess.
func (m *Manager) stream(ctx context.Context, session *Session, pipeline transcode.Pipeline) {
	output := pipeline.Output()
	log := m.log.With().Str("session_id", shortID(session.ID)).Logger()

	// raw-opus arrives already paced to one 20ms frame per chunk upstream;
	// pcm and opus-container read off ffmpeg's stdout in bursty, variably
	// sized chunks and benefit from the same bitrate pacing the teacher
	// applied before handing chunks to the transport.
	if session.Format != transcode.FormatRawOpus {
		paced := buffer.NewPacedBuffer(buffer.Config{
			Bitrate:   m.bitrateBps,
			Prebuffer: 200 * time.Millisecond,
			MaxBuffer: 2 * time.Second,
		})
		output = paced.Start(ctx, output)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-output:
			if !ok {
				m.finish(session)
				return
			}

			if session.isPaused() {
				m.awaitResume(ctx, session)
				if ctx.Err() != nil {
					return
				}
			}

			if err := m.sink.WriteFrame(session.ID, chunk); err != nil {
				log.Warn().Err(err).Msg("frame write failed, stopping session")
				m.sink.SendEvent(session.ID, "error", "transport write failed")
				session.setState(StateError)
				m.Stop(session.ID)
				return
			}

			session.addBytesSent(len(chunk))
			if m.metrics != nil {
				m.metrics.BytesStreamed.Add(float64(len(chunk)))
			}
		}
	}
}

func (m *Manager) awaitResume(ctx context.Context, session *Session) {
	select {
	case <-session.resumeCh:
	default:
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-session.resumeCh:
			if !session.isPaused() {
				return
			}
		case <-time.After(100 * time.Millisecond):
			if !session.isPaused() {
				return
			}
		}
	}
}

func (m *Manager) finish(session *Session) {
	session.mu.Lock()
	wasStreaming := session.state == StateStreaming
	session.state = StateIdle
	session.mu.Unlock()

	if wasStreaming {
		m.sink.SendEvent(session.ID, "finished", "")
	}
	if m.metrics != nil {
		m.metrics.SessionsStarted.WithLabelValues("finished").Inc()
	}
	m.Stop(session.ID)
}

func (m *Manager) fail(session *Session, message string) {
	session.setState(StateError)
	m.sink.SendEvent(session.ID, "error", message)
	if m.metrics != nil {
		m.metrics.SessionsStarted.WithLabelValues("error").Inc()
	}
	m.Stop(session.ID)
}

func (s *Session) stop() {
	s.mu.Lock()
	cancel := s.cancel
	pipeline := s.pipeline
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pipeline != nil {
		pipeline.Stop()
	}
	s.setState(StateIdle)
}
