// Package voicesink defines the boundary between the client adapter's
// jitter/pass-through delivery and a voice-chat backend that accepts
// already-encoded Opus frames. It does no encoding itself: raw-opus framing
// is produced upstream in the transcode pipeline, one Opus packet per
// payload, ready to hand to a voice connection's send channel.
package voicesink

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// ErrSinkClosed is returned by SendOpusFrame once the sink has been closed,
// e.g. the underlying voice connection disconnected.
var ErrSinkClosed = errors.New("voicesink: sink is closed")

// OpusSink accepts pre-encoded Opus frames, one 20ms packet per call.
// Implementations are expected to be non-blocking or bounded: a slow
// consumer should apply its own backpressure rather than stalling the
// caller indefinitely.
type OpusSink interface {
	SendOpusFrame(payload []byte) error
	Close() error
}

// ChannelSink adapts a fixed-size Opus-frame channel (the shape a voice
// library's send queue typically takes) to the OpusSink interface.
type ChannelSink struct {
	frames chan<- []byte
	closed chan struct{}
}

// NewChannelSink wraps frames, a voice connection's outbound Opus channel.
func NewChannelSink(frames chan<- []byte) *ChannelSink {
	return &ChannelSink{frames: frames, closed: make(chan struct{})}
}

// SendOpusFrame enqueues payload, returning ErrSinkClosed if the sink has
// been closed before or while the send was pending.
func (c *ChannelSink) SendOpusFrame(payload []byte) error {
	select {
	case <-c.closed:
		return ErrSinkClosed
	default:
	}

	select {
	case c.frames <- payload:
		return nil
	case <-c.closed:
		return ErrSinkClosed
	}
}

// Close marks the sink closed; subsequent SendOpusFrame calls fail fast
// rather than blocking on a channel nobody is draining.
func (c *ChannelSink) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// DiscordSink adapts a joined discordgo.VoiceConnection's OpusSend channel
// to OpusSink, toggling the speaking indicator around the frame stream the
// way a voice-chat bot is expected to.
type DiscordSink struct {
	vc      *discordgo.VoiceConnection
	channel *ChannelSink
}

// NewDiscordSink wraps vc, which must already be connected to a voice
// channel (the join sequence itself is out of scope here - callers obtain
// vc from discordgo.Session.ChannelVoiceJoin).
func NewDiscordSink(vc *discordgo.VoiceConnection) (*DiscordSink, error) {
	if vc == nil {
		return nil, fmt.Errorf("voicesink: nil voice connection")
	}
	if err := vc.Speaking(true); err != nil {
		return nil, fmt.Errorf("voicesink: set speaking: %w", err)
	}
	return &DiscordSink{vc: vc, channel: NewChannelSink(vc.OpusSend)}, nil
}

// SendOpusFrame forwards payload to the voice connection's OpusSend channel.
func (d *DiscordSink) SendOpusFrame(payload []byte) error {
	return d.channel.SendOpusFrame(payload)
}

// Close stops speaking and disconnects the underlying voice connection.
func (d *DiscordSink) Close() error {
	d.channel.Close()
	d.vc.Speaking(false)
	return d.vc.Disconnect()
}
