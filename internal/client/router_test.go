package client

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"audiorelay/internal/config"
	"audiorelay/internal/voicesink"
)

type recordingSender struct {
	mu     sync.Mutex
	frames map[string][][]byte
}

func newRecordingSender() *recordingSender {
	return &recordingSender{frames: make(map[string][][]byte)}
}

func (s *recordingSender) SendFrame(consumerID string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[consumerID] = append(s.frames[consumerID], payload)
}

func (s *recordingSender) count(consumerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames[consumerID])
}

type fakeOpusSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeOpusSink) SendOpusFrame(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, payload)
	return nil
}

func (f *fakeOpusSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeOpusSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func TestRouterVoiceChatDeliversFramesThroughSink(t *testing.T) {
	sink := &fakeOpusSink{}
	sender := newRecordingSender()
	router := NewRouter(config.ModeVoiceChat, 0, sender, zerolog.Nop(), nil)
	router.SetVoiceSinkFactory(func(consumerID string) (voicesink.OpusSink, error) {
		return sink, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router.Deliver(ctx, "voice-channel-1", []byte{1, 2, 3})
	router.Deliver(ctx, "voice-channel-1", []byte{4, 5, 6})

	deadline := time.Now().Add(time.Second)
	for sink.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := sink.count(); got != 2 {
		t.Fatalf("expected 2 frames delivered to the voice sink, got %d", got)
	}
}

func TestRouterVoiceChatWithoutFactoryDiscardsFrames(t *testing.T) {
	sender := newRecordingSender()
	router := NewRouter(config.ModeVoiceChat, 0, sender, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router.Deliver(ctx, "voice-channel-2", []byte{1})

	time.Sleep(50 * time.Millisecond)
	if got := sender.count("voice-channel-2"); got != 0 {
		t.Fatalf("expected no frames reach sender for unwired voice_chat consumer, got %d", got)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRouterVoiceChatFactoryErrorIsLogged(t *testing.T) {
	var logs syncBuffer
	sender := newRecordingSender()
	router := NewRouter(config.ModeVoiceChat, 0, sender, zerolog.New(&logs), nil)
	router.SetVoiceSinkFactory(func(consumerID string) (voicesink.OpusSink, error) {
		return nil, errors.New("join failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router.Deliver(ctx, "voice-channel-3", []byte{1})

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(logs.String(), "voice pass-through write failed") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(logs.String(), "voice pass-through write failed") {
		t.Fatalf("expected the factory error to be logged, got logs %q", logs.String())
	}
}
