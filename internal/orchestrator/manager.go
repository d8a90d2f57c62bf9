package orchestrator

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Manager owns every ConsumerSession's actor and is the entry point both the
// consumer websocket hub (commands) and the engine event relay (ready/
// finished/error) dispatch through.
type Manager struct {
	client   *EngineClient
	resolver Resolver
	store    Store
	events   EventSink
	format   string
	log      zerolog.Logger
	metrics  debounceCounter

	ctx context.Context

	mu     sync.Mutex
	actors map[string]*actor
}

// New creates a Manager. format is the wire format (pcm/opus-container/
// raw-opus) every play command is issued with, chosen from the configured
// audio mode.
func New(ctx context.Context, client *EngineClient, resolver Resolver, store Store, events EventSink, format string, log zerolog.Logger, metrics debounceCounter) *Manager {
	return &Manager{
		client:   client,
		resolver: resolver,
		store:    store,
		events:   events,
		format:   format,
		log:      log,
		metrics:  metrics,
		ctx:      ctx,
		actors:   make(map[string]*actor),
	}
}

func (m *Manager) getOrCreate(consumerID string) *actor {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.actors[consumerID]; ok {
		return a
	}

	session := newConsumerSession(consumerID)
	if m.store != nil {
		if state, found, err := m.store.Load(m.ctx, consumerID); err == nil && found {
			session.Queue = state.Queue
			session.IsPaused = state.IsPaused
			session.PlaybackOffsetSec = state.PlaybackOffsetSec
		} else if err != nil {
			m.log.Warn().Err(err).Str("consumer_id", consumerID).Msg("failed to load persisted session")
		}
	}

	a := newActor(session, m.client, m.resolver, m.store, m.events, m.format, m.log.With().Str("consumer_id", consumerID).Logger(), m.metrics)
	m.actors[consumerID] = a
	go a.run(m.ctx)
	return a
}

// Snapshot returns a copy of the consumer's queue/playback state, used for
// the initial `state` message a transport must send on connect.
func (m *Manager) Snapshot(consumerID string) OutboundEvent {
	a := m.getOrCreate(consumerID)
	isPaused := a.session.IsPaused
	q := a.session.Queue
	return OutboundEvent{
		Type:     "state",
		Queue:    &q,
		IsPaused: &isPaused,
		Playback: a.session.PlaybackSeconds(now()),
	}
}

// Play resolves (or enqueues a search token) urlOrQuery, appends it, and
// starts it if the queue was idle.
func (m *Manager) Play(consumerID, urlOrQuery string) {
	m.getOrCreate(consumerID).submit(command{kind: cmdPlay, query: urlOrQuery})
}

// AddToQueue appends without disturbing current playback.
func (m *Manager) AddToQueue(consumerID, urlOrQuery string) {
	m.getOrCreate(consumerID).submit(command{kind: cmdAddToQueue, query: urlOrQuery})
}

// PlayFromQueue transitions to the track at index i.
func (m *Manager) PlayFromQueue(consumerID string, i int) {
	m.getOrCreate(consumerID).submit(command{kind: cmdPlayFromQueue, index: i})
}

// Skip transitions forward one track.
func (m *Manager) Skip(consumerID string) {
	m.getOrCreate(consumerID).submit(command{kind: cmdSkip})
}

// Previous transitions backward one track.
func (m *Manager) Previous(consumerID string) {
	m.getOrCreate(consumerID).submit(command{kind: cmdPrevious})
}

// Seek transitions to the current track at the given offset.
func (m *Manager) Seek(consumerID string, seconds float64) {
	m.getOrCreate(consumerID).submit(command{kind: cmdSeek, seconds: seconds})
}

// Pause toggles the engine pause gate on.
func (m *Manager) Pause(consumerID string) {
	m.getOrCreate(consumerID).submit(command{kind: cmdPause})
}

// Resume toggles the engine pause gate off.
func (m *Manager) Resume(consumerID string) {
	m.getOrCreate(consumerID).submit(command{kind: cmdResume})
}

// RemoveFromQueue removes the track at index i, rejecting i == currentIndex
// while playing.
func (m *Manager) RemoveFromQueue(consumerID string, i int) {
	m.getOrCreate(consumerID).submit(command{kind: cmdRemoveFromQueue, index: i})
}

// ClearQueue stops current playback and empties the queue.
func (m *Manager) ClearQueue(consumerID string) {
	m.getOrCreate(consumerID).submit(command{kind: cmdClearQueue})
}

// ResetSession clears the queue and deletes the persisted record.
func (m *Manager) ResetSession(consumerID string) {
	m.getOrCreate(consumerID).submit(command{kind: cmdResetSession})
}

// Search resolves a free-text query and emits searchResults to the consumer.
func (m *Manager) Search(consumerID, query string) {
	m.getOrCreate(consumerID).submit(command{kind: cmdSearch, query: query})
}

// ClientIdle lets a pending auto-advance fire before the graceful-end bound
// elapses. Nothing in this module calls it, so auto-advance always waits the
// full bound.
func (m *Manager) ClientIdle(consumerID string) {
	m.getOrCreate(consumerID).submit(command{kind: cmdClientIdle})
}

// HandleEngineEvent relays a ready/finished/error event read off the engine
// transport socket to the owning consumer's actor. The engine session id
// and the consumer id are the same value (§3), so this is a direct lookup.
func (m *Manager) HandleEngineEvent(eventType, engineSessionID, message string) {
	var kind commandKind
	switch eventType {
	case "ready":
		kind = cmdEngineReady
	case "finished":
		kind = cmdEngineFinished
	case "error":
		kind = cmdEngineError
	default:
		return
	}
	m.getOrCreate(engineSessionID).submit(command{kind: kind, engineID: engineSessionID, message: message})
}
