package transport

import (
	"fmt"
	"net"
)

// Dial connects to the engine's audio socket at path as a client, returning
// a Reader ready to demultiplex frames/events and the underlying connection
// (closed by the caller on reconnect or shutdown).
func Dial(path string) (*Reader, net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: dial %s: %w", path, err)
	}
	return NewReader(conn), conn, nil
}
