package client

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"audiorelay/internal/config"
	"audiorelay/internal/voicesink"
)

// FrameSender is the minimal surface a consumer transport needs to accept
// delivered audio frames, implemented by the consumer websocket hub.
type FrameSender interface {
	SendFrame(consumerID string, payload []byte)
}

// VoiceSinkFactory opens a fresh voice-chat sink for a consumer, e.g.
// joining a voice channel and returning its Opus send boundary.
type VoiceSinkFactory func(consumerID string) (voicesink.OpusSink, error)

// Router fans the raw audio frames read off the engine transport into a
// per-consumer delivery pipeline chosen by the configured audio mode
// (jitter-buffered raw-opus for voice relay, paced scheduling for a browser
// client, direct pass-through to a voice sink for voice chat), forwarding
// the result to sender.
type Router struct {
	mode             config.AudioMode
	bitrateBps       int
	sender           FrameSender
	log              zerolog.Logger
	metrics          underrunCounter
	voiceSinkFactory VoiceSinkFactory

	mu     sync.Mutex
	inputs map[string]chan []byte
}

// NewRouter creates a Router. bitrateBps paces BrowserScheduler's
// variable-size web-audio chunks; metrics may be nil.
func NewRouter(mode config.AudioMode, bitrateBps int, sender FrameSender, log zerolog.Logger, metrics underrunCounter) *Router {
	return &Router{mode: mode, bitrateBps: bitrateBps, sender: sender, log: log, metrics: metrics, inputs: make(map[string]chan []byte)}
}

// SetVoiceSinkFactory wires the factory used to open a voice-chat consumer's
// pass-through sink. Required before a consumer running under
// config.ModeVoiceChat can be delivered audio; without it, that mode's pump
// logs once and discards frames for that consumer.
func (r *Router) SetVoiceSinkFactory(factory VoiceSinkFactory) {
	r.voiceSinkFactory = factory
}

// Deliver routes one frame belonging to sessionID (the engine session id,
// which is also the consumer id, per §3), lazily starting that consumer's
// delivery pipeline on first arrival.
func (r *Router) Deliver(ctx context.Context, sessionID string, payload []byte) {
	input := r.getOrCreate(ctx, sessionID)
	select {
	case input <- payload:
	default:
		r.log.Warn().Str("consumer_id", sessionID).Msg("dropping frame, consumer pipeline backed up")
	}
}

func (r *Router) getOrCreate(ctx context.Context, sessionID string) chan []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.inputs[sessionID]; ok {
		return ch
	}

	input := make(chan []byte, 64)
	r.inputs[sessionID] = input
	go r.pump(ctx, sessionID, input)
	return input
}

func (r *Router) pump(ctx context.Context, sessionID string, input chan []byte) {
	defer r.drop(sessionID)

	switch r.mode {
	case config.ModeDebugAudio:
		jb := NewJitterBuffer(r.log.With().Str("consumer_id", sessionID).Logger(), r.metrics)
		for frame := range jb.Start(ctx, input) {
			r.sender.SendFrame(sessionID, frame)
		}
	case config.ModeVoiceChat:
		r.pumpVoiceChat(sessionID, input)
	default: // config.ModeWebAudio
		sched := NewBrowserScheduler(r.bitrateBps)
		output, progress := sched.Start(ctx, input)
		go func() {
			for range progress {
				// Position is folded into the periodic orchestrator `state`
				// event elsewhere; drain so the scheduler never blocks here.
			}
		}()
		for frame := range output {
			r.sender.SendFrame(sessionID, frame.Payload)
		}
	}
}

// pumpVoiceChat relays raw-opus frames straight to a voice sink via
// PassThrough, with no jitter/pacing buffer: §4.4's direct pass-through
// variant trades smoothness for minimum latency.
func (r *Router) pumpVoiceChat(sessionID string, input chan []byte) {
	log := r.log.With().Str("consumer_id", sessionID).Logger()

	if r.voiceSinkFactory == nil {
		log.Warn().Msg("voice_chat mode has no voice sink factory wired, discarding frames")
		for range input {
		}
		return
	}

	pt := NewPassThrough(func() (io.WriteCloser, error) {
		sink, err := r.voiceSinkFactory(sessionID)
		if err != nil {
			return nil, err
		}
		return opusSinkWriter{sink}, nil
	}, log)
	defer pt.Close()

	for frame := range input {
		if err := pt.Write(frame); err != nil {
			log.Warn().Err(err).Msg("voice pass-through write failed")
		}
	}
}

// opusSinkWriter adapts a voicesink.OpusSink to the io.WriteCloser
// PassThrough's StreamFactory expects.
type opusSinkWriter struct {
	sink voicesink.OpusSink
}

func (o opusSinkWriter) Write(payload []byte) (int, error) {
	if err := o.sink.SendOpusFrame(payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

func (o opusSinkWriter) Close() error {
	return o.sink.Close()
}

func (r *Router) drop(sessionID string) {
	r.mu.Lock()
	delete(r.inputs, sessionID)
	r.mu.Unlock()
}
