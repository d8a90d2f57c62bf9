package transcode

import (
	"context"

	"layeh.com/gopus"
)

// frameSamples is 20ms of audio at 48kHz: the fixed frame size the client
// jitter buffer (§4.4) and most voice-chat libraries expect.
const frameSamples = 960 // samples per channel per 20ms frame at 48kHz

// bytesPerFrame is one 20ms stereo s16le PCM frame: 960 samples * 2 channels
// * 2 bytes/sample.
const bytesPerFrame = frameSamples * 2 * 2

// RawOpusPipeline wraps a PCM-emitting Pipeline (normally an
// *FFmpegPipeline) and re-chunks + encodes its output into fixed 20ms raw
// Opus frames with no container, per the raw-opus wire format. Grounded on
// the yt-dlp/ffmpeg-to-gopus pipeline pattern used for Discord voice relays.
type RawOpusPipeline struct {
	pcm     Pipeline
	encoder *gopus.Encoder
	output  chan []byte
	bitrate int
}

// NewRawOpusPipeline builds a raw-opus pipeline over an inner PCM pipeline.
func NewRawOpusPipeline(pcm Pipeline, cfg Config) *RawOpusPipeline {
	return &RawOpusPipeline{
		pcm:     pcm,
		output:  make(chan []byte, 30),
		bitrate: cfg.Bitrate,
	}
}

// SetSessionID forwards session tagging to the inner pipeline if supported.
func (r *RawOpusPipeline) SetSessionID(id string) {
	if tagger, ok := r.pcm.(interface{ SetSessionID(string) }); ok {
		tagger.SetSessionID(id)
	}
}

// Start launches the inner PCM pipeline and begins re-framing its output.
func (r *RawOpusPipeline) Start(ctx context.Context, streamURL string, format Format, startAtSec float64) error {
	enc, err := gopus.NewEncoder(48000, 2, gopus.Audio)
	if err != nil {
		return err
	}
	bitrate := r.bitrate
	if bitrate <= 0 {
		bitrate = DefaultConfig().Bitrate
	}
	enc.SetBitrate(bitrate)
	r.encoder = enc

	if err := r.pcm.Start(ctx, streamURL, FormatPCM, startAtSec); err != nil {
		return err
	}

	go r.reframe(ctx)
	return nil
}

// reframe accumulates PCM bytes into exact 20ms frames and Opus-encodes each
// one, so a consumer's jitter buffer never has to split a frame itself.
func (r *RawOpusPipeline) reframe(ctx context.Context) {
	defer close(r.output)

	var pending []byte
	pcm := r.pcm.Output()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-pcm:
			if !ok {
				return
			}
			pending = append(pending, chunk...)
			for len(pending) >= bytesPerFrame {
				frame := pending[:bytesPerFrame]
				pending = pending[bytesPerFrame:]

				samples := bytesToSamples(frame)
				encoded, err := r.encoder.Encode(samples, frameSamples, bytesPerFrame)
				if err != nil {
					continue
				}
				select {
				case r.output <- encoded:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return samples
}

// Output returns the channel of 20ms raw Opus frames.
func (r *RawOpusPipeline) Output() <-chan []byte {
	return r.output
}

// Pause forwards to the inner pipeline's hook; reframe keeps running, but
// the manager above has already stopped draining r.output, so backpressure
// propagates down through pending and into the inner pipeline the same way.
func (r *RawOpusPipeline) Pause() { r.pcm.Pause() }

// Resume forwards to the inner pipeline's hook.
func (r *RawOpusPipeline) Resume() { r.pcm.Resume() }

// Stop tears down the inner pipeline.
func (r *RawOpusPipeline) Stop() { r.pcm.Stop() }
