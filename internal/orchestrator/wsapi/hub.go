// Package wsapi implements the consumer-facing websocket transport: one
// connection per consumer carrying JSON actions in, JSON events (and,
// in browser mode, raw audio frames) out.
package wsapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"audiorelay/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundAction is one client-initiated JSON message, per §6.
type inboundAction struct {
	Action  string  `json:"action"`
	URL     string  `json:"url"`
	Query   string  `json:"query"`
	Index   int     `json:"index"`
	Seconds float64 `json:"seconds"`
}

// conn owns one consumer's websocket: a single writer goroutine serializes
// JSON events and binary audio frames onto the connection.
type conn struct {
	ws      *websocket.Conn
	writeCh chan []byte
	done    chan struct{}
}

// Hub fans orchestrator events out to each consumer's active connection and
// implements orchestrator.EventSink. The Manager it dispatches actions to is
// set via SetManager rather than New, since a Manager is constructed with
// its EventSink (this Hub) as a dependency - the two are wired together
// after both exist.
type Hub struct {
	mgr *orchestrator.Manager
	log zerolog.Logger

	mu    sync.Mutex
	conns map[string]*conn
}

// New creates a Hub with no Manager bound yet; call SetManager before
// serving any connection.
func New(log zerolog.Logger) *Hub {
	return &Hub{log: log, conns: make(map[string]*conn)}
}

// SetManager binds the Manager inbound actions dispatch to and Snapshot is
// read from. Must be called before ServeHTTP handles its first connection.
func (h *Hub) SetManager(mgr *orchestrator.Manager) {
	h.mgr = mgr
}

// ServeHTTP upgrades the request to a websocket for the consumer named by
// the "consumer_id" query parameter, replacing any existing connection for
// that consumer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	consumerID := r.URL.Query().Get("consumer_id")
	if consumerID == "" {
		http.Error(w, "missing consumer_id", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{ws: ws, writeCh: make(chan []byte, 64), done: make(chan struct{})}
	h.setConn(consumerID, c)
	h.log.Info().Str("consumer_id", consumerID).Msg("consumer connected")

	go h.writePump(c)

	initial, _ := json.Marshal(h.mgr.Snapshot(consumerID))
	c.writeCh <- initial

	h.readPump(consumerID, c)
}

func (h *Hub) writePump(c *conn) {
	defer c.ws.Close()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.writeCh:
			if !ok {
				return
			}
			msgType := websocket.TextMessage
			if len(msg) > 0 && msg[0] != '{' {
				msgType = websocket.BinaryMessage
			}
			if err := c.ws.WriteMessage(msgType, msg); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(consumerID string, c *conn) {
	defer func() {
		h.clearConn(consumerID, c)
		close(c.done)
		h.log.Info().Str("consumer_id", consumerID).Msg("consumer disconnected")
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var action inboundAction
		if err := json.Unmarshal(data, &action); err != nil {
			h.log.Warn().Err(err).Str("consumer_id", consumerID).Msg("malformed action")
			continue
		}
		h.dispatch(consumerID, action)
	}
}

func (h *Hub) dispatch(consumerID string, action inboundAction) {
	switch action.Action {
	case "play":
		h.mgr.Play(consumerID, firstNonEmpty(action.URL, action.Query))
	case "addToQueue":
		h.mgr.AddToQueue(consumerID, firstNonEmpty(action.URL, action.Query))
	case "playFromQueue":
		h.mgr.PlayFromQueue(consumerID, action.Index)
	case "skip":
		h.mgr.Skip(consumerID)
	case "previous":
		h.mgr.Previous(consumerID)
	case "seek", "resumeFrom":
		h.mgr.Seek(consumerID, action.Seconds)
	case "pause":
		h.mgr.Pause(consumerID)
	case "resume":
		h.mgr.Resume(consumerID)
	case "removeFromQueue":
		h.mgr.RemoveFromQueue(consumerID, action.Index)
	case "clearQueue":
		h.mgr.ClearQueue(consumerID)
	case "resetSession":
		h.mgr.ResetSession(consumerID)
	case "search":
		h.mgr.Search(consumerID, action.Query)
	default:
		h.log.Warn().Str("action", action.Action).Msg("unknown action")
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Notify implements orchestrator.EventSink, delivering ev as JSON to
// consumerID's active connection, if any.
func (h *Hub) Notify(consumerID string, ev orchestrator.OutboundEvent) {
	c := h.getConn(consumerID)
	if c == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode outbound event")
		return
	}
	select {
	case c.writeCh <- data:
	default:
		h.log.Warn().Str("consumer_id", consumerID).Msg("dropping event, writer backed up")
	}
}

// SendFrame pushes a raw audio frame to consumerID's connection, used when
// the browser client is attached directly to this socket rather than a
// voice-chat sink.
func (h *Hub) SendFrame(consumerID string, payload []byte) {
	c := h.getConn(consumerID)
	if c == nil {
		return
	}
	select {
	case c.writeCh <- payload:
	default:
	}
}

func (h *Hub) setConn(consumerID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.conns[consumerID]; ok {
		existing.ws.Close()
	}
	h.conns[consumerID] = c
}

func (h *Hub) clearConn(consumerID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[consumerID] == c {
		delete(h.conns, consumerID)
	}
}

func (h *Hub) getConn(consumerID string) *conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[consumerID]
}
