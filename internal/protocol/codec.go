package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrUnknownType is returned for envelopes whose type the receiver does not
// handle.
var ErrUnknownType = errors.New("protocol: unknown message type")

// Envelope is the wire form shared by the websocket gateway and the bus.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// Marshal encodes evt as an envelope.
func Marshal(evt Event) ([]byte, error) {
	data, err := sonic.Marshal(outbound{Type: evt.Type, Payload: evt.Payload})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %q: %w", evt.Type, err)
	}
	return data, nil
}

// Unmarshal parses an envelope, returning its type and undecoded payload.
func Unmarshal(data []byte) (EventType, []byte, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return "", nil, errors.New("protocol: envelope missing type field")
	}
	return env.Type, []byte(env.Payload), nil
}

// DecodePayload decodes a raw payload into T. An empty payload yields the
// zero value.
func DecodePayload[T any](raw []byte) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("protocol: unmarshal payload: %w", err)
	}
	return v, nil
}
