package orchestrator

// OutboundEvent is one server-initiated message to a consumer's attached
// transport (§6): {type: state|queueUpdated|nowPlaying|session|ready|
// progress|paused|resumed|finished|stopped|queueFinished|error|
// searchResults|sessionReset, ...}.
type OutboundEvent struct {
	Type      string      `json:"type"`
	Queue     *Queue      `json:"queue,omitempty"`
	Track     *Track      `json:"track,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	IsPaused  *bool       `json:"is_paused,omitempty"`
	Playback  float64     `json:"playback_secs,omitempty"`
	Bytes     int64       `json:"bytes,omitempty"`
	Message   string      `json:"message,omitempty"`
	Results   interface{} `json:"results,omitempty"`
}

// EventSink delivers an OutboundEvent to the transport attached to
// consumerID. Implemented by the consumer websocket hub.
type EventSink interface {
	Notify(consumerID string, ev OutboundEvent)
}
