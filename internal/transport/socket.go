package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Socket is the unix-domain listener the engine writes audio frames and
// events through. Exactly one orchestrator connection is active at a time;
// a reconnect simply replaces it. Writes with no connection attached are
// dropped rather than buffered, matching the engine's at-most-once framing
// contract.
type Socket struct {
	path     string
	log      zerolog.Logger
	listener net.Listener
	wg       sync.WaitGroup

	mu   sync.Mutex
	conn net.Conn
}

// NewSocket creates a socket bound to path (removed and recreated on Start).
func NewSocket(path string, log zerolog.Logger) *Socket {
	return &Socket{path: path, log: log}
}

// Start listens on the configured path and accepts connections in the
// background until ctx is cancelled.
func (s *Socket) Start(ctx context.Context) error {
	os.Remove(s.path)

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", s.path, err)
	}
	s.listener = listener
	s.log.Info().Str("path", s.path).Msg("transport socket listening")

	go s.acceptLoop(ctx)
	return nil
}

func (s *Socket) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.Warn().Err(err).Msg("accept failed")
				continue
			}
		}

		s.log.Info().Msg("orchestrator connected")
		s.setConn(conn)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.drainUntilClosed(ctx, conn)
		}()
	}
}

// drainUntilClosed reads (and discards) anything the orchestrator sends on
// this socket - control flows over HTTP, so the only expected traffic here
// is connection teardown - and clears the active connection once it drops.
func (s *Socket) drainUntilClosed(ctx context.Context, conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			s.clearConn(conn)
			s.log.Info().Msg("orchestrator disconnected")
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Socket) setConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
}

func (s *Socket) clearConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
	}
}

func (s *Socket) getConn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// WriteFrame writes one audio record for sessionID. A nil connection (no
// orchestrator attached yet) is a silent no-op, not an error, so the engine
// keeps running ahead of a reconnect.
func (s *Socket) WriteFrame(sessionID string, payload []byte) error {
	conn := s.getConn()
	if conn == nil {
		return nil
	}
	_, err := conn.Write(EncodeFrame(sessionID, payload))
	if err != nil {
		s.clearConn(conn)
	}
	return err
}

// SendEvent writes one JSON event line for sessionID.
func (s *Socket) SendEvent(sessionID, eventType, message string) {
	conn := s.getConn()
	if conn == nil {
		return
	}
	line, err := EncodeEvent(Event{Type: eventType, SessionID: sessionID, Message: message})
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to encode event")
		return
	}
	if _, err := conn.Write(line); err != nil {
		s.clearConn(conn)
	}
}

// Stop closes the listener and any active connection, then waits for the
// accept loop's reader goroutines to exit.
func (s *Socket) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	os.Remove(s.path)
}
