package client

import (
	"context"
	"testing"
	"time"
)

const testBitrateBps = 128000 // 16000 bytes/sec

// fillFrameCountAt returns how many chunks of chunkBytes are needed to
// reach fillTarget at testBitrateBps.
func fillFrameCountAt(chunkBytes int) int {
	sched := NewBrowserScheduler(testBitrateBps)
	perChunk := sched.durationFor(make([]byte, chunkBytes))
	n := int(fillTarget / perChunk)
	if n == 0 {
		n = 1
	}
	return n
}

func TestBrowserSchedulerRampsInAfterFilling(t *testing.T) {
	sched := NewBrowserScheduler(testBitrateBps)
	input := make(chan []byte)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	output, _ := sched.Start(ctx, input)

	chunkBytes := 320 // 20ms of audio at 128kbps
	count := fillFrameCountAt(chunkBytes)
	go func() {
		for i := 0; i < count; i++ {
			input <- make([]byte, chunkBytes)
		}
	}()

	select {
	case frame, ok := <-output:
		if !ok {
			t.Fatal("output closed before first frame")
		}
		if !frame.RampIn {
			t.Fatal("expected first frame after filling to be marked RampIn")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first frame")
	}
}

func TestBrowserSchedulerClosesImmediatelyIfInputClosesWhileEmpty(t *testing.T) {
	sched := NewBrowserScheduler(testBitrateBps)
	input := make(chan []byte)
	close(input)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	output, progress := sched.Start(ctx, input)

	select {
	case _, ok := <-output:
		if ok {
			t.Fatal("expected output closed immediately for empty, closed input")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for output to close")
	}

	select {
	case _, ok := <-progress:
		if ok {
			t.Fatal("expected progress channel closed too")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for progress to close")
	}
}

func TestBrowserSchedulerDrainsRemainingFramesAfterInputCloses(t *testing.T) {
	sched := NewBrowserScheduler(testBitrateBps)
	chunkBytes := 160 // 10ms of audio at 128kbps
	frameCount := fillFrameCountAt(chunkBytes)
	input := make(chan []byte, frameCount)
	for i := 0; i < frameCount; i++ {
		input <- make([]byte, chunkBytes)
	}
	close(input)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	output, _ := sched.Start(ctx, input)

	received := 0
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-output:
			if !ok {
				if received != frameCount {
					t.Fatalf("expected %d frames drained before close, got %d", frameCount, received)
				}
				return
			}
			received++
		case <-deadline:
			t.Fatalf("timed out draining, got %d/%d frames", received, frameCount)
		}
	}
}

func TestBrowserSchedulerStopsOnContextCancel(t *testing.T) {
	sched := NewBrowserScheduler(testBitrateBps)
	input := make(chan []byte)
	ctx, cancel := context.WithCancel(context.Background())

	output, progress := sched.Start(ctx, input)
	cancel()

	select {
	case _, ok := <-output:
		if ok {
			t.Fatal("expected output closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for output to close after cancel")
	}

	select {
	case _, ok := <-progress:
		if ok {
			t.Fatal("expected progress closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for progress to close after cancel")
	}
}

func TestBrowserSchedulerDerivesDurationFromChunkSize(t *testing.T) {
	sched := NewBrowserScheduler(testBitrateBps)

	small := sched.durationFor(make([]byte, 160))
	large := sched.durationFor(make([]byte, 1600))

	if large <= small {
		t.Fatalf("expected a 10x larger chunk to take longer to play back, got small=%v large=%v", small, large)
	}
	if ratio := float64(large) / float64(small); ratio < 9.9 || ratio > 10.1 {
		t.Fatalf("expected duration to scale linearly with byte size, got ratio %v", ratio)
	}
}

func TestBrowserSchedulerFallsBackToDefaultDurationWithoutBitrate(t *testing.T) {
	sched := NewBrowserScheduler(0)
	if d := sched.durationFor(make([]byte, 12345)); d != defaultChunkDuration {
		t.Fatalf("expected fallback duration %v for unknown bitrate, got %v", defaultChunkDuration, d)
	}
}
