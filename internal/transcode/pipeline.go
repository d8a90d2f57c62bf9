// Package transcode drives the ffmpeg subprocess that turns an extracted
// media stream into one of the three wire formats named by EngineSession,
// and (for raw-opus) the Go-side Opus framer layered on top of it.
package transcode

import "context"

// Format specifies the output variant for transcoded audio, per §4.1.
type Format string

const (
	// FormatPCM is signed 16-bit little-endian interleaved stereo, unframed.
	FormatPCM Format = "pcm"
	// FormatOpusContainer is Opus inside a self-framing OGG container,
	// suitable for a voice-chat library that demuxes frames itself.
	FormatOpusContainer Format = "opus-container"
	// FormatRawOpus is 20ms Opus frames with no container; the client
	// applies a jitter buffer (§4.4).
	FormatRawOpus Format = "raw-opus"
)

// Config holds encoding configuration.
type Config struct {
	SampleRate int     // Sample rate in Hz (default: 48000)
	Channels   int     // Number of channels (default: 2, stereo)
	Bitrate    int     // Bitrate in bps
	Volume     float64 // Volume multiplier 0.0-2.0 (default: 1.0)
}

// DefaultConfig returns the default encoding configuration: 48kHz stereo
// Opus at a fixed bitrate, per the non-goal that bounds transcoding quality.
func DefaultConfig() Config {
	return Config{
		SampleRate: 48000,
		Channels:   2,
		Bitrate:    128000,
		Volume:     1.0,
	}
}

// Pipeline extracts audio from a stream URL, decodes it, and encodes it to
// one of the three wire Formats.
type Pipeline interface {
	// Start begins the pipeline for the given stream URL, seeking startAtSec
	// seconds in before encoding begins.
	Start(ctx context.Context, streamURL string, format Format, startAtSec float64) error

	// Output returns a channel of encoded chunks. For FormatPCM and
	// FormatOpusContainer, a chunk is whatever byte range one read of the
	// transcoder's stdout returned; chunk boundaries are not aligned to Ogg
	// pages or Opus packets, so a frame can span two chunks. For
	// FormatRawOpus, each chunk is exactly one 20ms Opus frame. The channel
	// closes when the stream ends or Stop is called.
	Output() <-chan []byte

	// Pause is a hook for implementations that need to react to a pause;
	// the withholding itself happens one layer up, in the manager that
	// stops reading from Output(). Most implementations can leave this
	// empty and let channel backpressure do the rest.
	Pause()

	// Resume is the counterpart to Pause.
	Resume()

	// Stop tears the pipeline down and releases its subprocess.
	Stop()
}

// New builds the Pipeline appropriate for format: a raw ffmpeg pipe for
// pcm/opus-container, or an ffmpeg PCM pipe wrapped in a Go-side 20ms Opus
// framer for raw-opus.
func New(cfg Config, format Format) Pipeline {
	ffmpeg := NewFFmpegPipeline(cfg)
	if format == FormatRawOpus {
		return NewRawOpusPipeline(ffmpeg, cfg)
	}
	return ffmpeg
}
