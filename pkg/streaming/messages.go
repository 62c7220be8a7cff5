// Package streaming defines the wire protocol for live skeleton streams.
package streaming

import (
	"encoding/json"

	"github.com/OCAP2/bodytrack/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartSession  = "start_session"
	TypeEndSession    = "end_session"
	TypeAddBody       = "add_body"
	TypeSkeletonFrame = "skeleton_frame"
	TypeRemoveBody    = "remove_body"
	TypeAck           = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartSessionPayload carries the session header.
type StartSessionPayload struct {
	Session *core.Session `json:"session"`
}

// NewEnvelope marshals payload and wraps it with its message type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}
