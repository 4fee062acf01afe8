// Package handshake drives the four-message session establishment
// protocol (§4.1): ephemeral ECDH key agreement, mutual Ed25519
// authentication, and HKDF session-key derivation.
package handshake

import "errors"

// State is a handshake state machine state (§4.1 state diagram).
type State string

const (
	StateIdle                       State = "idle"
	StateAwaitingServerHello        State = "awaiting_server_hello"
	StateAwaitingSessionEstablished State = "awaiting_session_established"
	StateEstablished                State = "ESTABLISHED"
	StateFailed                     State = "FAILED"
)

var (
	// ErrDuplicateServerHello is returned (and ignored by the engine) when
	// a server_hello arrives after the engine has already advanced past
	// awaiting_server_hello (§4.1: "Duplicate server_hello ... ignored").
	ErrDuplicateServerHello = errors.New("handshake: duplicate server_hello ignored")
	ErrUnexpectedFrame      = errors.New("handshake: unexpected frame for current state")
	ErrSignatureInvalid     = errors.New("handshake: signature verification failed")
	ErrTimedOut             = errors.New("handshake: timed out before session_established")
)

// Result is everything the Connection Manager needs once the handshake
// reaches ESTABLISHED (§4.1: "the engine hands session keys and
// last_ack_device_seq to the Connection Manager and clears transient
// state").
type Result struct {
	SessionKey       []byte
	DeviceID         string
	LastAckDeviceSeq uint64
	ExpiresAt        int64
}
