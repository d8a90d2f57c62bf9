package client

import (
	"context"
	"time"
)

// BrowserState is the paced-scheduler lifecycle a browser-attached client
// passes through, per §4.4: Filling accumulates an initial cushion before
// any output; Playing maintains a scheduled-ahead cushion while popping
// frames at the source cadence; Draining empties the remaining cushion once
// input has closed and no more frames are coming.
type BrowserState int

const (
	BrowserFilling BrowserState = iota
	BrowserPlaying
	BrowserDraining
)

const (
	fillTarget          = 500 * time.Millisecond
	scheduleAheadBase   = 400 * time.Millisecond
	scheduleAheadCap    = 2 * time.Second
	scheduleAheadGrowth = 1.5
	healthyStreak       = 50 // consecutive on-time pops before the cushion is allowed to grow
	progressInterval    = 250 * time.Millisecond // ~4Hz, decoupled from frame cadence
	volumeRampDuration  = 10 * time.Millisecond

	defaultChunkDuration = 20 * time.Millisecond // fallback when bitrate is unknown
)

// BrowserFrame is one scheduled output frame. RampIn marks the leading
// frames of the Filling->Playing transition, which the caller should
// fade in over volumeRampDuration rather than play at full volume.
type BrowserFrame struct {
	Payload []byte
	RampIn  bool
}

// BrowserProgress is a throttled playback-position report, decoupled from
// frame cadence so the UI isn't driven at 50Hz.
type BrowserProgress struct {
	PositionSec float64
	State       BrowserState
}

// BrowserScheduler paces chunks for a browser-attached consumer: it fills an
// initial cushion, then maintains a scheduled-ahead buffer that grows when
// healthy and sheds its oldest chunks (adjusting the reported playback
// position to match) if a slow consumer lets it balloon past the hard cap.
// Chunks are not fixed-duration frames (opus-container chunks are whatever
// byte range ffmpeg's stdout happened to flush); duration per chunk is
// derived from its byte length against bitrateBps, the same accounting
// internal/buffer.PacedBuffer uses upstream of this component.
type BrowserScheduler struct {
	bitrateBps int
}

// NewBrowserScheduler creates a scheduler that derives each chunk's playback
// duration from its byte size at bitrateBps. A non-positive bitrateBps falls
// back to treating every chunk as defaultChunkDuration.
func NewBrowserScheduler(bitrateBps int) *BrowserScheduler {
	return &BrowserScheduler{bitrateBps: bitrateBps}
}

// durationFor estimates how long chunk takes to play back at bitrateBps.
func (b *BrowserScheduler) durationFor(chunk []byte) time.Duration {
	if b.bitrateBps <= 0 {
		return defaultChunkDuration
	}
	bytesPerSecond := float64(b.bitrateBps) / 8.0
	seconds := float64(len(chunk)) / bytesPerSecond
	duration := time.Duration(seconds * float64(time.Second))
	if duration <= 0 {
		return time.Millisecond
	}
	return duration
}

// Start consumes raw frames from input and produces paced BrowserFrames on
// the first returned channel, with throttled BrowserProgress reports on the
// second. Both channels close once input is drained and exhausted.
func (b *BrowserScheduler) Start(ctx context.Context, input <-chan []byte) (<-chan BrowserFrame, <-chan BrowserProgress) {
	output := make(chan BrowserFrame)
	progressCh := make(chan BrowserProgress, 1)

	go func() {
		defer close(output)
		defer close(progressCh)

		var queue [][]byte
		var buffered time.Duration
		var positionSec float64
		var rampRemaining time.Duration
		var timer *time.Timer

		state := BrowserFilling
		inputOpen := true
		onTimeStreak := 0
		target := scheduleAheadBase

		progressTicker := time.NewTicker(progressInterval)
		defer progressTicker.Stop()

		reportProgress := func() {
			select {
			case progressCh <- BrowserProgress{PositionSec: positionSec, State: state}:
			default:
			}
		}

		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			if state == BrowserDraining && len(queue) == 0 {
				return
			}

			// Arm (or re-arm) the dequeue timer to the head chunk's own
			// playback duration, not a fixed cadence: chunks vary in size.
			if (state == BrowserPlaying || state == BrowserDraining) && len(queue) > 0 && timer == nil {
				timer = time.NewTimer(b.durationFor(queue[0]))
			}
			var timerC <-chan time.Time
			if timer != nil {
				timerC = timer.C
			}

			select {
			case <-ctx.Done():
				return

			case chunk, ok := <-input:
				if !ok {
					inputOpen = false
					input = nil
					if state == BrowserFilling && len(queue) == 0 {
						return
					}
					if state != BrowserDraining {
						state = BrowserDraining
					}
					continue
				}
				d := b.durationFor(chunk)
				queue = append(queue, chunk)
				buffered += d

				if state == BrowserFilling && buffered >= fillTarget {
					state = BrowserPlaying
					rampRemaining = volumeRampDuration
				}

				// A slow consumer let the cushion balloon past the hard cap:
				// drop the oldest chunks and fold the dropped time into the
				// reported position so progress stays monotonic.
				for buffered > scheduleAheadCap && len(queue) > 1 {
					dropped := queue[0]
					queue = queue[1:]
					dd := b.durationFor(dropped)
					buffered -= dd
					positionSec += dd.Seconds()
					onTimeStreak = 0
				}

			case <-progressTicker.C:
				reportProgress()

			case <-timerC:
				timer = nil
				if state == BrowserFilling || len(queue) == 0 {
					onTimeStreak = 0
					if !inputOpen {
						state = BrowserDraining
					}
					continue
				}

				chunk := queue[0]
				queue = queue[1:]
				d := b.durationFor(chunk)
				buffered -= d
				if buffered < 0 {
					buffered = 0
				}
				positionSec += d.Seconds()

				onTimeStreak++
				if onTimeStreak >= healthyStreak && target < scheduleAheadCap {
					target = time.Duration(float64(target) * scheduleAheadGrowth)
					if target > scheduleAheadCap {
						target = scheduleAheadCap
					}
					onTimeStreak = 0
				}

				out := BrowserFrame{Payload: chunk}
				if rampRemaining > 0 {
					out.RampIn = true
					rampRemaining -= d
				}

				select {
				case <-ctx.Done():
					return
				case output <- out:
				}

				if !inputOpen && len(queue) == 0 {
					state = BrowserDraining
				}
			}
		}
	}()

	return output, progressCh
}
