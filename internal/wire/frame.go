// Package wire defines the JSON frame protocol exchanged over the event
// channel (§6: "a single duplex frame channel, each frame a JSON object
// { type, payload }"), independent of the transport that carries it.
package wire

import "encoding/json"

// FrameType enumerates every frame type flowing in either direction over
// the event channel (§6 table).
type FrameType string

const (
	TypeClientHello         FrameType = "client_hello"
	TypeServerHello         FrameType = "server_hello"
	TypeClientAuth          FrameType = "client_auth"
	TypeSessionEstablished  FrameType = "session_established"
	TypeEvent               FrameType = "event"
	TypeAck                 FrameType = "ack"
	TypeReplayRequest       FrameType = "replay_request"
	TypeReplayResponse      FrameType = "replay_response"
	TypeSessionExpiringSoon FrameType = "session_expiring_soon"
	TypeFullResyncRequired  FrameType = "full_resync_required"
	TypeError               FrameType = "error"
	TypePing                FrameType = "ping"
	TypePong                FrameType = "pong"
)

// Frame is the envelope every wire message is wrapped in.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals a typed payload into a Frame ready to write to the
// transport.
func Encode(t FrameType, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: t, Payload: raw}, nil
}

// Decode unmarshals a Frame's payload into dst.
func (f Frame) Decode(dst any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, dst)
}
