package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// gracefulEndBound is the bounded wait for the client adapter to report its
// buffer drained before auto-advancing, fixed per §12's resolution.
const gracefulEndBound = 400 * time.Millisecond

// transitionDebounce coalesces rapid repeated transition commands (skip,
// previous, seek, playFromQueue) into a single engine replay, per §4.2.
const transitionDebounce = 150 * time.Millisecond

type commandKind int

const (
	cmdPlay commandKind = iota
	cmdAddToQueue
	cmdPlayFromQueue
	cmdSkip
	cmdPrevious
	cmdSeek
	cmdPause
	cmdResume
	cmdRemoveFromQueue
	cmdClearQueue
	cmdResetSession
	cmdSearch
	cmdEngineReady
	cmdEngineFinished
	cmdEngineError
	cmdFireTransition
	cmdFireAdvance
	cmdClientIdle
)

type command struct {
	kind      commandKind
	query     string
	index     int
	seconds   float64
	engineID  string
	message   string
	seq       uint64
	done      chan struct{}
}

// actor owns one ConsumerSession and is the sole goroutine permitted to
// mutate it, satisfying §5's "all mutations serialized through its
// per-session command task" rule.
type actor struct {
	session *ConsumerSession
	cmds    chan command

	client   *EngineClient
	resolver Resolver
	store    Store
	events   EventSink
	format   string
	log      zerolog.Logger
	metrics  debounceCounter

	pendingStartAt float64
}

// debounceCounter is the narrow metrics surface the actor touches, kept as
// an interface so tests don't need a real prometheus registry.
type debounceCounter interface {
	IncDebounceCoalesced()
}

func newActor(session *ConsumerSession, client *EngineClient, resolver Resolver, store Store, events EventSink, format string, log zerolog.Logger, metrics debounceCounter) *actor {
	a := &actor{
		session:  session,
		cmds:     make(chan command, 32),
		client:   client,
		resolver: resolver,
		store:    store,
		events:   events,
		format:   format,
		log:      log,
		metrics:  metrics,
	}
	return a
}

func (a *actor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.cmds:
			a.handle(ctx, cmd)
			if cmd.done != nil {
				close(cmd.done)
			}
		}
	}
}

func (a *actor) submit(cmd command) {
	select {
	case a.cmds <- cmd:
	default:
		a.log.Warn().Str("consumer_id", a.session.ConsumerID).Msg("command queue full, dropping command")
	}
}

func (a *actor) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdPlay:
		a.session.Queue.Append(a.newTrack(cmd.query))
		a.emitQueueUpdated()
		if a.session.CurrentEngineSessionID == "" {
			a.session.Queue.CurrentIndex = len(a.session.Queue.Tracks) - 1
			a.pendingStartAt = 0
			a.beginTransition()
		}

	case cmdAddToQueue:
		a.session.Queue.Append(a.newTrack(cmd.query))
		a.emitQueueUpdated()
		if a.session.CurrentEngineSessionID == "" {
			a.session.Queue.CurrentIndex = len(a.session.Queue.Tracks) - 1
			a.pendingStartAt = 0
			a.beginTransition()
		}
		a.persist(ctx)

	case cmdPlayFromQueue:
		if cmd.index < 0 || cmd.index >= len(a.session.Queue.Tracks) {
			a.emitError("index out of range")
			return
		}
		a.session.Queue.CurrentIndex = cmd.index
		a.emitQueueUpdated()
		a.pendingStartAt = 0
		a.beginTransition()

	case cmdSkip:
		if len(a.session.Queue.Tracks) == 0 {
			a.emitError(ErrQueueEmpty.Error())
			return
		}
		a.session.Queue.Skip()
		a.emitQueueUpdated()
		a.pendingStartAt = 0
		a.beginTransition()

	case cmdPrevious:
		if len(a.session.Queue.Tracks) == 0 {
			a.emitError(ErrQueueEmpty.Error())
			return
		}
		a.session.Queue.Previous()
		a.emitQueueUpdated()
		a.pendingStartAt = 0
		a.beginTransition()

	case cmdSeek:
		if _, ok := a.session.Queue.Current(); !ok {
			a.emitError(ErrQueueEmpty.Error())
			return
		}
		a.session.PlaybackOffsetSec = cmd.seconds
		a.pendingStartAt = cmd.seconds
		a.beginTransition()

	case cmdPause:
		if a.session.CurrentEngineSessionID == "" || a.session.IsPaused {
			return
		}
		if err := a.client.Pause(ctx, a.session.CurrentEngineSessionID); err != nil {
			a.emitError(err.Error())
			return
		}
		a.session.foldElapsed(now())
		a.session.IsPaused = true
		a.emit(OutboundEvent{Type: "paused", Playback: a.session.PlaybackSeconds(now())})
		a.persist(ctx)

	case cmdResume:
		if a.session.CurrentEngineSessionID == "" || !a.session.IsPaused {
			return
		}
		if err := a.client.Resume(ctx, a.session.CurrentEngineSessionID); err != nil {
			a.emitError(err.Error())
			return
		}
		a.session.IsPaused = false
		a.session.PlaybackStartMonotonic = now()
		a.emit(OutboundEvent{Type: "resumed", Playback: a.session.PlaybackSeconds(now())})
		a.persist(ctx)

	case cmdRemoveFromQueue:
		if cmd.index == a.session.Queue.CurrentIndex && a.session.CurrentEngineSessionID != "" {
			a.emitError(ErrRemoveCurrentWhilePlaying.Error())
			return
		}
		if err := a.session.Queue.Remove(cmd.index); err != nil {
			a.emitError(err.Error())
			return
		}
		a.emitQueueUpdated()
		a.persist(ctx)

	case cmdClearQueue:
		if a.session.CurrentEngineSessionID != "" {
			a.client.Stop(ctx, a.session.CurrentEngineSessionID)
			a.session.CurrentEngineSessionID = ""
		}
		a.session.Queue.Clear()
		a.emitQueueUpdated()
		a.persist(ctx)

	case cmdResetSession:
		if a.session.CurrentEngineSessionID != "" {
			a.client.Stop(ctx, a.session.CurrentEngineSessionID)
			a.session.CurrentEngineSessionID = ""
		}
		a.session.Queue.Clear()
		a.session.IsPaused = false
		a.session.PlaybackOffsetSec = 0
		a.store.Delete(ctx, a.session.ConsumerID)
		a.emit(OutboundEvent{Type: "sessionReset"})

	case cmdSearch:
		results, err := a.resolver.Search(ctx, cmd.query, 5)
		if err != nil {
			a.emitError(err.Error())
			return
		}
		a.emit(OutboundEvent{Type: "searchResults", Results: results})

	case cmdEngineReady:
		a.handleReady(cmd.engineID)

	case cmdEngineFinished:
		a.handleFinished(ctx, cmd.engineID)

	case cmdEngineError:
		a.handleEngineError(ctx, cmd.engineID, cmd.message)

	case cmdFireTransition:
		if cmd.seq != a.session.ActivePlayRequestSeq || cmd.seq != a.session.PendingTransitionSeq {
			if a.metrics != nil {
				a.metrics.IncDebounceCoalesced()
			}
			return // superseded by a newer command
		}
		a.session.PendingTransitionSeq = 0
		a.executeTransition(ctx)

	case cmdFireAdvance, cmdClientIdle:
		if a.session.pendingAdvanceSeq == 0 {
			return
		}
		if cmd.kind == cmdFireAdvance && cmd.seq != a.session.pendingAdvanceSeq {
			return
		}
		seq := a.session.pendingAdvanceSeq
		a.session.pendingAdvanceSeq = 0
		_ = seq
		a.advance(ctx)
	}
}

func (a *actor) newTrack(urlOrQuery string) Track {
	url := urlOrQuery
	if !looksLikeURL(urlOrQuery) {
		url = SearchToken(urlOrQuery)
	}
	return Track{URL: url, Title: urlOrQuery, AddedAt: now()}
}

func looksLikeURL(s string) bool {
	return len(s) > 7 && (s[:7] == "http://" || (len(s) > 8 && s[:8] == "https://"))
}

// beginTransition bumps the sequence counters and schedules a debounced
// engine replay, per the §4.2 transition serializer.
func (a *actor) beginTransition() {
	a.session.PlayRequestSeq++
	seq := a.session.PlayRequestSeq
	a.session.ActivePlayRequestSeq = seq
	a.session.PendingTransitionSeq = seq

	time.AfterFunc(transitionDebounce, func() {
		a.submit(command{kind: cmdFireTransition, seq: seq})
	})
}

// executeTransition performs the stop-then-play sequence for whatever track
// is now current, resolving a deferred search token first if needed.
func (a *actor) executeTransition(ctx context.Context) {
	idx := a.session.Queue.CurrentIndex
	if idx < 0 || idx >= len(a.session.Queue.Tracks) {
		a.stopCurrent(ctx)
		a.emit(OutboundEvent{Type: "queueFinished"})
		a.persist(ctx)
		return
	}
	a.playFromIndex(ctx, idx)
}

// playFromIndex plays the track at idx, skipping forward past any track
// whose deferred resolution fails (§4.2, scenario 6).
func (a *actor) playFromIndex(ctx context.Context, idx int) {
	for idx < len(a.session.Queue.Tracks) {
		track := a.session.Queue.Tracks[idx]
		resolved, err := a.resolveIfNeeded(ctx, track, idx)
		if err != nil {
			a.emitError(err.Error())
			idx++
			continue
		}
		a.session.Queue.CurrentIndex = idx
		a.startEngineSession(ctx, resolved)
		a.emitQueueUpdated()
		a.persist(ctx)
		return
	}
	a.session.Queue.CurrentIndex = -1
	a.stopCurrent(ctx)
	a.emit(OutboundEvent{Type: "queueFinished"})
	a.persist(ctx)
}

// resolveIfNeeded looks up a deferred search token and rewrites the queue
// entry in place so the lookup is never repeated.
func (a *actor) resolveIfNeeded(ctx context.Context, track Track, idx int) (Track, error) {
	if !track.IsDeferred() {
		return track, nil
	}
	best, err := Resolve(ctx, a.resolver, track.SearchQuery(), track.Duration)
	if err != nil {
		return Track{}, err
	}
	resolved := Track{URL: best.URL, Title: best.Title, Duration: best.Duration, AddedAt: track.AddedAt}
	a.session.Queue.UpdateTrack(idx, resolved)
	return resolved, nil
}

// startEngineSession stops whatever engine session is currently bound to
// this consumer (suppressing its auto-advance), then issues play for track.
func (a *actor) startEngineSession(ctx context.Context, track Track) {
	a.stopCurrent(ctx)

	a.session.IsStreamReady = false
	a.session.IsPaused = false
	a.session.PlaybackOffsetSec = a.pendingStartAt
	a.session.PlaybackStartMonotonic = time.Time{}
	a.session.CurrentEngineSessionID = a.session.ConsumerID

	a.emit(OutboundEvent{Type: "nowPlaying", Track: &track})
	a.emit(OutboundEvent{Type: "session", SessionID: a.session.ConsumerID})

	startAt := a.pendingStartAt
	a.pendingStartAt = 0
	if err := a.client.Play(ctx, a.session.ConsumerID, track.URL, a.format, startAt, float64(track.Duration)); err != nil {
		a.emitError(err.Error())
		a.session.CurrentEngineSessionID = ""
	}
}

// stopCurrent stops the active engine session, if any, first marking it
// suppressed so a stale finished event doesn't double-advance.
func (a *actor) stopCurrent(ctx context.Context) {
	if a.session.CurrentEngineSessionID == "" {
		return
	}
	a.session.SuppressAutoAdvanceFor[a.session.CurrentEngineSessionID] = struct{}{}
	a.client.Stop(ctx, a.session.CurrentEngineSessionID)
}

func (a *actor) handleReady(engineID string) {
	if engineID != a.session.CurrentEngineSessionID {
		return
	}
	delete(a.session.SuppressAutoAdvanceFor, engineID)
	a.session.IsStreamReady = true
	a.session.PlaybackStartMonotonic = now()
	a.emit(OutboundEvent{Type: "ready", SessionID: engineID})
}

func (a *actor) handleFinished(ctx context.Context, engineID string) {
	if _, suppressed := a.session.SuppressAutoAdvanceFor[engineID]; suppressed {
		delete(a.session.SuppressAutoAdvanceFor, engineID)
		return
	}
	if engineID != a.session.CurrentEngineSessionID {
		return
	}
	a.emit(OutboundEvent{Type: "finished", SessionID: engineID})
	a.session.CurrentEngineSessionID = ""
	a.scheduleAutoAdvance()
}

func (a *actor) handleEngineError(ctx context.Context, engineID, message string) {
	if engineID != a.session.CurrentEngineSessionID {
		return
	}
	a.emit(OutboundEvent{Type: "error", SessionID: engineID, Message: message})
	a.session.CurrentEngineSessionID = ""
	a.advance(ctx)
}

// scheduleAutoAdvance waits up to gracefulEndBound for the client adapter
// to report its buffer drained (via ClientIdle) before advancing anyway.
func (a *actor) scheduleAutoAdvance() {
	a.session.PlayRequestSeq++
	seq := a.session.PlayRequestSeq
	a.session.pendingAdvanceSeq = seq
	time.AfterFunc(gracefulEndBound, func() {
		a.submit(command{kind: cmdFireAdvance, seq: seq})
	})
}

func (a *actor) advance(ctx context.Context) {
	next := a.session.Queue.CurrentIndex + 1
	if next < len(a.session.Queue.Tracks) {
		a.playFromIndex(ctx, next)
		return
	}
	a.session.Queue.CurrentIndex = -1
	a.emitQueueUpdated()
	a.emit(OutboundEvent{Type: "queueFinished"})
	a.persist(ctx)
}

func (a *actor) emit(ev OutboundEvent) {
	if a.events != nil {
		a.events.Notify(a.session.ConsumerID, ev)
	}
}

func (a *actor) emitError(message string) {
	a.emit(OutboundEvent{Type: "error", Message: message})
}

func (a *actor) emitQueueUpdated() {
	q := a.session.Queue
	a.emit(OutboundEvent{Type: "queueUpdated", Queue: &q})
}

func (a *actor) persist(ctx context.Context) {
	if a.store == nil {
		return
	}
	state := PersistedState{
		ConsumerID:        a.session.ConsumerID,
		Queue:             a.session.Queue,
		IsPaused:          a.session.IsPaused,
		PlaybackOffsetSec: a.session.PlaybackSeconds(now()),
	}
	if err := a.store.Save(ctx, state); err != nil {
		a.log.Warn().Err(err).Str("consumer_id", a.session.ConsumerID).Msg("persist failed")
	}
}

func now() time.Time { return time.Now() }
