package transcode

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/rs/zerolog"
)

// FFmpegPipeline implements Pipeline for pcm and opus-container by shelling
// out to ffmpeg: it decodes whatever the extractor handed it and re-encodes
// to the requested wire format.
type FFmpegPipeline struct {
	config         Config
	cmd            *exec.Cmd
	stdout         io.ReadCloser
	stderr         io.ReadCloser
	output         chan []byte
	cancel         context.CancelFunc
	readBufferSize int
	sessionID      string
	log            zerolog.Logger
}

// NewFFmpegPipeline creates a new ffmpeg-based pipeline.
func NewFFmpegPipeline(config Config) *FFmpegPipeline {
	return &FFmpegPipeline{
		config:         config,
		output:         make(chan []byte, 30), // up to 30 read chunks buffered for smooth delivery
		readBufferSize: 16384,
		log:            zerolog.Nop(),
	}
}

// SetSessionID attaches a session id to every log line this pipeline emits.
func (p *FFmpegPipeline) SetSessionID(id string) {
	p.sessionID = id
	p.log = p.log.With().Str("session_id", id).Logger()
}

// SetLogger wires the pipeline into the owning session's structured logger.
func (p *FFmpegPipeline) SetLogger(log zerolog.Logger) {
	p.log = log
	if p.sessionID != "" {
		p.log = p.log.With().Str("session_id", p.sessionID).Logger()
	}
}

// Start begins the ffmpeg subprocess for the given stream URL and format.
func (p *FFmpegPipeline) Start(ctx context.Context, streamURL string, format Format, startAtSec float64) error {
	ctx, p.cancel = context.WithCancel(ctx)

	switch format {
	case FormatOpusContainer:
		p.readBufferSize = 4096
	default:
		p.readBufferSize = 16384
	}

	args := p.buildArgs(streamURL, format, startAtSec)
	p.log.Info().Str("format", string(format)).Msg("starting ffmpeg")
	p.cmd = exec.CommandContext(ctx, "ffmpeg", args...)

	var err error
	p.stdout, err = p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	p.stderr, err = p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	go p.readStderr()
	go p.readOutput(ctx)

	return nil
}

// Output returns the channel receiving encoded audio chunks.
func (p *FFmpegPipeline) Output() <-chan []byte {
	return p.output
}

// Stop tears the pipeline down: cancel context then kill the process so a
// blocked subprocess read never outlives the session.
func (p *FFmpegPipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

// Pause is a no-op: the manager stops reading from Output() while a session
// is paused, and the buffered channel filling up applies backpressure all
// the way down to ffmpeg's stdout pipe on its own. The subprocess itself
// never learns it's paused.
func (p *FFmpegPipeline) Pause() {}

// Resume is a no-op for the same reason Pause is: the manager resuming its
// reads from Output() is what unblocks the pipe, nothing here needs to act.
func (p *FFmpegPipeline) Resume() {}

// buildArgs constructs ffmpeg arguments for the requested format.
func (p *FFmpegPipeline) buildArgs(streamURL string, format Format, startAtSec float64) []string {
	volume := fmt.Sprintf("volume=%.2f", p.config.Volume)
	sampleRate := fmt.Sprintf("%d", p.config.SampleRate)
	channels := fmt.Sprintf("%d", p.config.Channels)

	args := []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_on_network_error", "1",
		"-reconnect_on_http_error", "4xx,5xx",
		"-reconnect_delay_max", "5",
		"-multiple_requests", "1",
		"-user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"-referer", "https://www.youtube.com/",
	}

	if startAtSec > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", startAtSec))
	}

	args = append(args,
		"-i", streamURL,
		"-af", volume,
		"-ar", sampleRate,
		"-ac", channels,
		"-loglevel", "warning",
	)

	switch format {
	case FormatPCM:
		// -re reads at native frame rate for real-time streaming.
		args = append([]string{"-re"}, args...)
		args = append(args, "-f", "s16le", "pipe:1")
	case FormatOpusContainer:
		args = append([]string{"-re"}, args...)
		args = append(args,
			"-c:a", "libopus",
			"-b:a", fmt.Sprintf("%d", p.config.Bitrate),
			"-vbr", "on",
			"-compression_level", "10",
			"-frame_duration", "20",
			"-application", "audio",
			"-f", "ogg", // OGG container for proper page-level framing
			"-page_duration", "20000",
			"-flush_packets", "1",
			"pipe:1",
		)
	default:
		// raw-opus is handled by encoding PCM on the Go side (see opus.go);
		// the ffmpeg subprocess itself only ever emits PCM here.
		args = append([]string{"-re"}, args...)
		args = append(args, "-f", "s16le", "pipe:1")
	}

	return args
}

func (p *FFmpegPipeline) readStderr() {
	if p.stderr == nil {
		return
	}
	defer p.stderr.Close()

	buf := make([]byte, 4096)
	var accumulated []byte

	for {
		n, err := p.stderr.Read(buf)
		if n > 0 {
			accumulated = append(accumulated, buf[:n]...)
			for {
				idx := -1
				for i, b := range accumulated {
					if b == '\n' {
						idx = i
						break
					}
				}
				if idx < 0 {
					break
				}
				line := string(accumulated[:idx])
				accumulated = accumulated[idx+1:]
				if len(line) > 0 {
					p.log.Debug().Str("stderr", line).Msg("ffmpeg")
				}
			}
		}
		if err != nil {
			if len(accumulated) > 0 {
				p.log.Debug().Str("stderr", string(accumulated)).Msg("ffmpeg")
			}
			return
		}
	}
}

func (p *FFmpegPipeline) readOutput(ctx context.Context) {
	defer close(p.output)
	defer p.stdout.Close()

	buf := make([]byte, p.readBufferSize)
	totalBytes := 0

	for {
		select {
		case <-ctx.Done():
			p.log.Debug().Int("bytes", totalBytes).Msg("ffmpeg stopped (context cancelled)")
			p.waitAndLogExit()
			return
		default:
			n, err := p.stdout.Read(buf)
			if err != nil {
				if err != io.EOF {
					p.log.Warn().Err(err).Msg("ffmpeg read error")
				}
				p.log.Debug().Int("bytes", totalBytes).Msg("ffmpeg stream ended")
				p.waitAndLogExit()
				return
			}
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				totalBytes += n
				select {
				case p.output <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (p *FFmpegPipeline) waitAndLogExit() {
	if p.cmd == nil {
		return
	}
	err := p.cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			p.log.Debug().Int("exit_code", exitErr.ExitCode()).Msg("ffmpeg exited")
		} else {
			p.log.Debug().Err(err).Msg("ffmpeg wait error")
		}
	} else {
		p.log.Debug().Msg("ffmpeg exited normally")
	}
}
