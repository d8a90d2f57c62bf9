package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// jitterThresholdFrames is 25 frames (500ms at 20ms/frame), the FIFO depth
// that must fill before paced output begins.
const jitterThresholdFrames = 25

// frameInterval is the fixed cadence raw-opus frames are popped at.
const frameInterval = 20 * time.Millisecond

// sustainedUnderrunThreshold is the consecutive-underrun count that
// triggers exactly one "sustained underrun" log line.
const sustainedUnderrunThreshold = 10

// underrunCounter is the narrow metrics surface JitterBuffer touches.
type underrunCounter interface {
	IncClientUnderrun()
}

// JitterBuffer reassembles raw 20ms Opus frames delivered with arrival-time
// variance into a steady 20ms cadence, per §4.4. Grounded on the paced
// producer/consumer queue shape used for bitrate-paced encoder output,
// generalized from time-since-bitrate pacing to a fixed frame cadence.
type JitterBuffer struct {
	log     zerolog.Logger
	metrics underrunCounter
}

// NewJitterBuffer creates a jitter buffer that logs through log and reports
// underruns through metrics (nil is accepted to disable metrics in tests).
func NewJitterBuffer(log zerolog.Logger, metrics underrunCounter) *JitterBuffer {
	return &JitterBuffer{log: log, metrics: metrics}
}

// Start consumes raw Opus frames from input and produces them on output at
// a steady 20ms cadence once the FIFO has primed past jitterThresholdFrames.
// The returned channel closes when input closes and the FIFO drains.
func (j *JitterBuffer) Start(ctx context.Context, input <-chan []byte) <-chan []byte {
	output := make(chan []byte)

	go func() {
		defer close(output)

		var queue [][]byte
		var lastFrame []byte
		inputOpen := true
		primed := false
		consecutiveUnderruns := 0
		totalFrames := 0
		totalUnderruns := 0

		var ticker *time.Ticker
		var tickCh <-chan time.Time

		defer func() {
			if ticker != nil {
				ticker.Stop()
			}
			if totalFrames > 0 && totalUnderruns*100 > totalFrames {
				j.log.Warn().
					Int("total_frames", totalFrames).
					Int("total_underruns", totalUnderruns).
					Msg("jitter buffer session underrun rate exceeded 1%")
			}
		}()

		for {
			if !primed && !inputOpen && len(queue) == 0 {
				return
			}

			select {
			case <-ctx.Done():
				return

			case chunk, ok := <-input:
				if !ok {
					inputOpen = false
					if len(queue) > 0 && !primed {
						primed = true
						ticker = time.NewTicker(frameInterval)
						tickCh = ticker.C
					}
					continue
				}
				queue = append(queue, chunk)
				if !primed && len(queue) >= jitterThresholdFrames {
					primed = true
					ticker = time.NewTicker(frameInterval)
					tickCh = ticker.C
				}

			case <-tickCh:
				var frame []byte
				if len(queue) > 0 {
					frame = queue[0]
					queue = queue[1:]
					lastFrame = frame
					totalFrames++
					if consecutiveUnderruns >= sustainedUnderrunThreshold {
						j.log.Info().Msg("jitter buffer recovered from sustained underrun")
					}
					consecutiveUnderruns = 0
				} else if inputOpen {
					frame = lastFrame
					consecutiveUnderruns++
					totalUnderruns++
					if j.metrics != nil {
						j.metrics.IncClientUnderrun()
					}
					if consecutiveUnderruns == sustainedUnderrunThreshold {
						j.log.Warn().Msg("sustained underrun")
					}
				} else {
					return
				}

				if frame == nil {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case output <- frame:
				}
			}
		}
	}()

	return output
}
