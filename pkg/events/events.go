package events

import (
	"encoding/json"
	"fmt"
)

// Event names observed on the wire.
const (
	// Bind is sent by a client to bind an identity to its connection.
	Bind = "userid"

	// Ack answers a client request that carried an ack number.
	Ack = "ack"

	// Push is the default server-to-client event for routed messages.
	Push = "hello"

	// Users carries the live connection count of the node.
	Users = "users"
)

// Envelope is the JSON frame exchanged over the WebSocket connection.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Encode builds a frame for event with data marshalled as JSON.
// A json.RawMessage is passed through untouched.
func Encode(event string, data any) ([]byte, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, fmt.Errorf("events: encode %q: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// EncodeRequest builds a frame for event that asks the receiver to
// acknowledge it under number ack.
func EncodeRequest(event string, data any, ack uint64) ([]byte, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, fmt.Errorf("events: encode %q: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw, Ack: ack})
}

// EncodeAck builds the acknowledgement frame for request number id.
// A non-nil ackErr is reported in the Error field and data is ignored.
func EncodeAck(id uint64, data any, ackErr error) ([]byte, error) {
	env := Envelope{Event: Ack, Ack: id}
	if ackErr != nil {
		env.Error = ackErr.Error()
		return json.Marshal(env)
	}
	raw, err := marshalData(data)
	if err != nil {
		return nil, fmt.Errorf("events: encode ack %d: %w", id, err)
	}
	env.Data = raw
	return json.Marshal(env)
}

// Decode parses a single frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("events: decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("events: decode frame: missing event name")
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("events: %q carries no data", e.Event)
	}
	return json.Unmarshal(e.Data, v)
}

func marshalData(data any) (json.RawMessage, error) {
	switch d := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	default:
		return json.Marshal(d)
	}
}
