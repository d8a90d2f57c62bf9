package client

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// StreamFactory lazily opens a fresh output stream for a sink, e.g. dialing
// a new voice connection or re-opening a local audio device.
type StreamFactory func() (io.WriteCloser, error)

// PassThrough relays payload writes directly to an underlying stream with no
// buffering (§4.4's "direct pass-through" mode, for consumers that tolerate
// or require minimal latency over smoothness). If the consumer closes its
// output mid-stream, the sink is not torn down: it is marked closed and the
// next payload lazily reopens a fresh stream via factory, so a still-live
// engine session is never silently dropped.
type PassThrough struct {
	factory StreamFactory
	log     zerolog.Logger

	mu     sync.Mutex
	stream io.WriteCloser // nil means "replace on next write"
}

// NewPassThrough creates a pass-through sink that opens its first stream
// lazily, on the first call to Write.
func NewPassThrough(factory StreamFactory, log zerolog.Logger) *PassThrough {
	return &PassThrough{factory: factory, log: log}
}

// Write sends payload to the live stream, opening one first if none is
// currently open. A write error closes and clears the stream so the next
// call retries with a freshly-opened one rather than repeating the failure.
func (p *PassThrough) Write(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		stream, err := p.factory()
		if err != nil {
			return err
		}
		p.stream = stream
	}

	if _, err := p.stream.Write(payload); err != nil {
		p.stream.Close()
		p.stream = nil
		return err
	}
	return nil
}

// Close tears down the current stream, if any, and marks the sink closed so
// a subsequent Write reopens rather than erroring.
func (p *PassThrough) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	err := p.stream.Close()
	p.stream = nil
	return err
}

// MarkClosed forgets the current stream without closing it, for the case
// where the caller observed the stream close out from under it (e.g. a
// voice connection disconnect) and just needs the next Write to replace it.
func (p *PassThrough) MarkClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stream = nil
}
