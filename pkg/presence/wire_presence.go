package presence

import (
	"encoding/json"
	"fmt"
)

// Protocol event names exchanged over the managed connection.
const (
	// client -> server
	EventAuth       = "auth"
	EventHeartbeat  = "heartbeat"
	EventQueueJoin  = "queue:join"
	EventQueueLeave = "queue:leave"

	// server -> client
	EventAuthSuccess = "auth:success"
	EventAuthFailed  = "auth:failed"
)

// Frame is the envelope for every message on the websocket. The payload is
// kept raw so the dispatcher can decode it only once the event is known.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame builds a frame for the given event, marshaling the payload.
// A nil payload produces a frame with no data field.
func NewFrame(event string, payload any) (Frame, error) {
	f := Frame{Event: event}
	if payload == nil {
		return f, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %q payload: %w", event, err)
	}
	f.Data = data
	return f, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("frame %q has no payload", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("failed to decode %q payload: %w", f.Event, err)
	}
	return nil
}

// AuthPayload carries the application-level authentication token. It is the
// first frame a client must send after the transport opens, independent of
// any transport-level handshake auth.
type AuthPayload struct {
	Token string `json:"token"`
}

// HeartbeatPayload is the periodic client liveness signal.
type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}
