package orchestrator

import (
	"testing"
	"time"
)

func TestQueueSkipClampsAtEnd(t *testing.T) {
	q := Queue{Tracks: []Track{{URL: "a"}, {URL: "b"}}, CurrentIndex: 1}
	q.Skip()
	if q.CurrentIndex != 1 {
		t.Fatalf("expected CurrentIndex clamped at 1, got %d", q.CurrentIndex)
	}
}

func TestQueueSkipOnEmptyQueue(t *testing.T) {
	var q Queue
	q.Skip()
	if q.CurrentIndex != -1 {
		t.Fatalf("expected CurrentIndex -1 on empty queue, got %d", q.CurrentIndex)
	}
}

func TestQueuePreviousClampsAtStart(t *testing.T) {
	q := Queue{Tracks: []Track{{URL: "a"}, {URL: "b"}}, CurrentIndex: 0}
	q.Previous()
	if q.CurrentIndex != 0 {
		t.Fatalf("expected CurrentIndex clamped at 0, got %d", q.CurrentIndex)
	}
}

func TestQueueRemoveBeforeCurrentShiftsIndex(t *testing.T) {
	q := Queue{Tracks: []Track{{URL: "a"}, {URL: "b"}, {URL: "c"}}, CurrentIndex: 2}
	if err := q.Remove(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.CurrentIndex != 1 {
		t.Fatalf("expected CurrentIndex shifted to 1, got %d", q.CurrentIndex)
	}
	if len(q.Tracks) != 2 || q.Tracks[0].URL != "b" {
		t.Fatalf("unexpected tracks after remove: %+v", q.Tracks)
	}
}

func TestQueueRemoveCurrentClearsIndex(t *testing.T) {
	q := Queue{Tracks: []Track{{URL: "a"}, {URL: "b"}}, CurrentIndex: 1}
	if err := q.Remove(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.CurrentIndex != -1 {
		t.Fatalf("expected CurrentIndex -1 after removing current, got %d", q.CurrentIndex)
	}
}

func TestQueueRemoveOutOfRange(t *testing.T) {
	q := Queue{Tracks: []Track{{URL: "a"}}}
	if err := q.Remove(5); err != ErrIndexOutOfRange {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestQueueCurrentOnEmptyQueue(t *testing.T) {
	var q Queue
	q.CurrentIndex = -1
	if _, ok := q.Current(); ok {
		t.Fatal("expected ok=false for empty queue")
	}
}

func TestTrackDeferredResolution(t *testing.T) {
	track := Track{URL: SearchToken("weezer buddy holly")}
	if !track.IsDeferred() {
		t.Fatal("expected deferred track")
	}
	if track.SearchQuery() != "weezer buddy holly" {
		t.Fatalf("unexpected search query: %q", track.SearchQuery())
	}

	resolved := Track{URL: "https://example.com/watch?v=abc"}
	if resolved.IsDeferred() {
		t.Fatal("expected non-deferred track")
	}
}

func TestConsumerSessionPlaybackSecondsWhilePaused(t *testing.T) {
	c := newConsumerSession("consumer-1")
	c.IsPaused = true
	c.PlaybackOffsetSec = 42.5
	now := time.Now()
	if got := c.PlaybackSeconds(now); got != 42.5 {
		t.Fatalf("expected 42.5 while paused, got %v", got)
	}
}

func TestConsumerSessionPlaybackSecondsWhilePlaying(t *testing.T) {
	c := newConsumerSession("consumer-1")
	c.PlaybackOffsetSec = 10
	c.PlaybackStartMonotonic = time.Now().Add(-5 * time.Second)
	got := c.PlaybackSeconds(time.Now())
	if got < 14.5 || got > 15.5 {
		t.Fatalf("expected playback position near 15s, got %v", got)
	}
}

func TestConsumerSessionFoldElapsed(t *testing.T) {
	c := newConsumerSession("consumer-1")
	start := time.Now().Add(-3 * time.Second)
	c.PlaybackStartMonotonic = start
	c.foldElapsed(time.Now())
	if c.PlaybackOffsetSec < 2.5 || c.PlaybackOffsetSec > 3.5 {
		t.Fatalf("expected offset near 3s, got %v", c.PlaybackOffsetSec)
	}
	if !c.PlaybackStartMonotonic.IsZero() {
		t.Fatal("expected monotonic anchor cleared")
	}
}
