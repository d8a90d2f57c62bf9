package client

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingMetrics struct{ underruns int }

func (c *countingMetrics) IncClientUnderrun() { c.underruns++ }

func drainFrames(t *testing.T, output <-chan []byte, n int, timeout time.Duration) [][]byte {
	t.Helper()
	var frames [][]byte
	deadline := time.After(timeout)
	for len(frames) < n {
		select {
		case frame, ok := <-output:
			if !ok {
				t.Fatalf("output closed early, got %d/%d frames", len(frames), n)
			}
			frames = append(frames, frame)
		case <-deadline:
			t.Fatalf("timed out waiting for frames, got %d/%d", len(frames), n)
		}
	}
	return frames
}

func TestJitterBufferPrimesThenPacesOutput(t *testing.T) {
	jb := NewJitterBuffer(zerolog.Nop(), nil)
	input := make(chan []byte)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	output := jb.Start(ctx, input)

	go func() {
		for i := 0; i < jitterThresholdFrames; i++ {
			input <- []byte{byte(i)}
		}
	}()

	frames := drainFrames(t, output, jitterThresholdFrames, 2*time.Second)
	if len(frames) != jitterThresholdFrames {
		t.Fatalf("expected %d frames, got %d", jitterThresholdFrames, len(frames))
	}
	if frames[0][0] != 0 {
		t.Fatalf("expected first frame to be frame 0, got %v", frames[0])
	}
}

func TestJitterBufferDrainsAndClosesAfterInputCloses(t *testing.T) {
	jb := NewJitterBuffer(zerolog.Nop(), nil)
	input := make(chan []byte, 3)
	input <- []byte("a")
	input <- []byte("b")
	input <- []byte("c")
	close(input)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	output := jb.Start(ctx, input)
	frames := drainFrames(t, output, 3, 2*time.Second)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}

	select {
	case _, ok := <-output:
		if ok {
			t.Fatal("expected output closed after draining a closed input")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for output to close")
	}
}

func TestJitterBufferReplaysLastFrameOnUnderrunAndCountsMetric(t *testing.T) {
	metrics := &countingMetrics{}
	jb := NewJitterBuffer(zerolog.Nop(), metrics)
	input := make(chan []byte)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	output := jb.Start(ctx, input)

	go func() {
		for i := 0; i < jitterThresholdFrames; i++ {
			input <- []byte{byte(i)}
		}
		// starve the buffer without closing input, forcing underrun replay.
	}()

	frames := drainFrames(t, output, jitterThresholdFrames+3, 3*time.Second)
	last := frames[jitterThresholdFrames-1]
	for _, replayed := range frames[jitterThresholdFrames:] {
		if replayed[0] != last[0] {
			t.Fatalf("expected underrun replay of last frame %v, got %v", last, replayed)
		}
	}
	if metrics.underruns == 0 {
		t.Fatal("expected underrun metric to be incremented")
	}
}

func TestJitterBufferStopsOnContextCancel(t *testing.T) {
	jb := NewJitterBuffer(zerolog.Nop(), nil)
	input := make(chan []byte)
	ctx, cancel := context.WithCancel(context.Background())

	output := jb.Start(ctx, input)
	cancel()

	select {
	case _, ok := <-output:
		if ok {
			t.Fatal("expected no frames after immediate cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for output to close after cancel")
	}
}
