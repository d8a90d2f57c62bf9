// Package transport implements the unix-domain socket wire format that
// carries audio frames and control events between the engine and the
// orchestrator: a 4-byte big-endian length prefix, a 24-byte space-padded
// session id, and the payload, interleaved with newline-delimited JSON
// events on the same connection.
package transport

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// sessionIDLen is the fixed width of the ASCII session id prefix on every
// audio record.
const sessionIDLen = 24

// maxFrameLen bounds a single audio record to 1 MiB, per the wire contract.
const maxFrameLen = 1 << 20

// Event is a control message interleaved with audio records on the socket.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
}

// EncodeFrame builds one audio record: 4-byte BE length, 24-byte padded
// session id, then payload.
func EncodeFrame(sessionID string, payload []byte) []byte {
	id := sessionID
	if len(id) > sessionIDLen {
		id = id[:sessionIDLen]
	}
	padded := fmt.Sprintf("%-24s", id)

	length := uint32(sessionIDLen + len(payload))
	packet := make([]byte, 4+int(length))
	binary.BigEndian.PutUint32(packet[0:4], length)
	copy(packet[4:4+sessionIDLen], padded)
	copy(packet[4+sessionIDLen:], payload)
	return packet
}

// EncodeEvent marshals ev as one newline-terminated JSON line.
func EncodeEvent(ev Event) ([]byte, error) {
	line, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

// Frame is a demultiplexed audio record handed to a Reader's consumer.
type Frame struct {
	SessionID string
	Payload   []byte
}

// readerState names which half of the EXPECT_HEADER / EXPECT_AUDIO_BODY
// cycle the Reader is in.
type readerState int

const (
	expectHeader readerState = iota
	expectAudioBody
)

// Reader demultiplexes the interleaved frame/event stream described by the
// wire layout: it peeks the next byte to decide whether it is looking at a
// JSON event (`{`), a stray newline (skipped), or a 4-byte length header
// introducing an audio record.
type Reader struct {
	br    *bufio.Reader
	state readerState
}

// NewReader wraps r for frame/event demultiplexing.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024), state: expectHeader}
}

// Next blocks until the next Frame or Event is available, or returns an
// error (including io.EOF when the peer closes the connection). On a
// framing error (N < 24 or N > maxFrameLen) it returns an error without
// logging and without consuming the record body, so the stream is left
// mid-record and a further Next call does not resynchronise; the read loop
// in cmd/consumersvc drops the connection on any error and redials.
func (r *Reader) Next() (*Frame, *Event, error) {
	for {
		b, err := r.br.Peek(1)
		if err != nil {
			return nil, nil, err
		}

		switch b[0] {
		case '\n':
			r.br.Discard(1)
			continue
		case '{':
			line, err := r.br.ReadBytes('\n')
			if err != nil {
				return nil, nil, err
			}
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				return nil, nil, fmt.Errorf("transport: malformed event: %w", err)
			}
			return nil, &ev, nil
		default:
			header := make([]byte, 4)
			if _, err := io.ReadFull(r.br, header); err != nil {
				return nil, nil, err
			}
			n := binary.BigEndian.Uint32(header)
			if n < sessionIDLen || n > maxFrameLen {
				return nil, nil, fmt.Errorf("transport: framing error, length %d out of range", n)
			}

			body := make([]byte, n)
			if _, err := io.ReadFull(r.br, body); err != nil {
				return nil, nil, err
			}

			sessionID := string(body[:sessionIDLen])
			return &Frame{SessionID: trimPadding(sessionID), Payload: body[sessionIDLen:]}, nil, nil
		}
	}
}

func trimPadding(s string) string {
	end := len(s)
	for end > 0 && s[end-1] == ' ' {
		end--
	}
	return s[:end]
}
