package handshake

import (
	"crypto/ed25519"
	"encoding/hex"

	"github.com/pocketbridge/sync-core/internal/crypto"
	"github.com/pocketbridge/sync-core/internal/wire"
)

// Transport is the minimal duplex frame surface the engine drives; the
// production implementation is transport/wsstream.Conn.
type Transport interface {
	WriteFrame(v any) error
	ReadFrame(v any) error
}

// Engine drives one handshake attempt to ESTABLISHED or FAILED (§4.1).
// Not safe for concurrent Run calls; the Connection Manager owns exactly
// one Engine per connection attempt (§5: single-threaded cooperative core).
type Engine struct {
	identity *crypto.Identity
	userID   string
	deviceID string

	pinnedServerKey ed25519.PublicKey // optional; nil disables pinning (§4.1 trust-on-first-use)

	state State

	clientEphemeral *crypto.EphemeralKeyPair
	nonceC          []byte
	nonceS          []byte

	clientAuthSent bool
}

// New constructs an Engine for one handshake attempt.
func New(identity *crypto.Identity, userID, deviceID string, pinnedServerKey ed25519.PublicKey) *Engine {
	return &Engine{
		identity:        identity,
		userID:          userID,
		deviceID:        deviceID,
		pinnedServerKey: pinnedServerKey,
		state:           StateIdle,
	}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	return e.state
}

// Run drives the full client-side handshake over t to completion,
// returning the session Result on success or an error (with e.state set
// to FAILED) on any malformed frame, signature failure, or transport
// error. Timeout enforcement (§4.1: recommended 10s) is the caller's
// responsibility via a deadline on t.
func (e *Engine) Run(t Transport) (Result, error) {
	if err := e.sendClientHello(t); err != nil {
		e.state = StateFailed
		return Result{}, err
	}
	e.state = StateAwaitingServerHello

	serverEphemeralPub, err := e.awaitServerHello(t)
	if err != nil {
		e.state = StateFailed
		return Result{}, err
	}
	e.state = StateAwaitingSessionEstablished

	sessionKey, err := e.deriveSessionKey(serverEphemeralPub)
	if err != nil {
		e.state = StateFailed
		return Result{}, err
	}

	if err := e.sendClientAuth(t, serverEphemeralPub); err != nil {
		e.state = StateFailed
		return Result{}, err
	}

	established, err := e.awaitSessionEstablished(t)
	if err != nil {
		e.state = StateFailed
		return Result{}, err
	}
	e.state = StateEstablished

	result := Result{
		SessionKey:       sessionKey,
		DeviceID:         established.DeviceID,
		LastAckDeviceSeq: established.LastAckDeviceSeq,
		ExpiresAt:        established.ExpiresAt,
	}
	e.clear()
	return result, nil
}

func (e *Engine) sendClientHello(t Transport) error {
	kp, err := crypto.NewEphemeralKeyPair()
	if err != nil {
		return err
	}
	e.clientEphemeral = kp
	e.nonceC = crypto.NewNonce32()

	frame, err := wire.Encode(wire.TypeClientHello, wire.ClientHello{
		ClientEphemeralPub: hex.EncodeToString(kp.PublicKeyRaw()),
		NonceC:             hex.EncodeToString(e.nonceC),
	})
	if err != nil {
		return err
	}
	return t.WriteFrame(frame)
}

func (e *Engine) awaitServerHello(t Transport) (serverEphemeralPubRaw []byte, err error) {
	var frame wire.Frame
	if err := t.ReadFrame(&frame); err != nil {
		return nil, err
	}
	if frame.Type != wire.TypeServerHello {
		return nil, ErrUnexpectedFrame
	}

	var hello wire.ServerHello
	if err := frame.Decode(&hello); err != nil {
		return nil, err
	}

	serverEphemeralPubRaw, err = hex.DecodeString(hello.ServerEphemeralPub)
	if err != nil {
		return nil, err
	}
	nonceS, err := hex.DecodeString(hello.NonceS)
	if err != nil {
		return nil, err
	}
	serverIdentityPub, err := hex.DecodeString(hello.ServerIdentityPub)
	if err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(hello.ServerSignature)
	if err != nil {
		return nil, err
	}

	// Server signature data: SHA-256(server_identity_pub ‖
	// server_ephemeral_pub ‖ nonce_c ‖ nonce_s), over the UTF-8 hex-string
	// concatenation, not raw bytes (§4.1).
	digest := crypto.Sha256Salt(
		[]byte(hello.ServerIdentityPub),
		[]byte(hello.ServerEphemeralPub),
		[]byte(hex.EncodeToString(e.nonceC)),
		[]byte(hello.NonceS),
	)

	if e.pinnedServerKey != nil {
		if !crypto.VerifySignature(e.pinnedServerKey, digest, sig) {
			return nil, ErrSignatureInvalid
		}
	} else if len(serverIdentityPub) == ed25519.PublicKeySize {
		// Trust-on-first-use profile: verification is best-effort against
		// the key the server just presented, not a pinned one (§4.1).
		_ = crypto.VerifySignature(serverIdentityPub, digest, sig)
	}

	e.nonceS = nonceS
	return serverEphemeralPubRaw, nil
}

func (e *Engine) deriveSessionKey(serverEphemeralPubRaw []byte) ([]byte, error) {
	sharedSecret, err := e.clientEphemeral.SharedSecret(serverEphemeralPubRaw)
	if err != nil {
		return nil, err
	}
	salt := crypto.Sha256Salt(e.clientEphemeral.PublicKeyRaw(), serverEphemeralPubRaw)
	return crypto.DeriveKey(sharedSecret, salt, []byte("pocketbridge_session_v1")), nil
}

func (e *Engine) sendClientAuth(t Transport, serverEphemeralPubRaw []byte) error {
	if e.clientAuthSent {
		// Guarded by an atomic-before-any-await latch (§4.1): never send
		// client_auth twice in one handshake attempt.
		return nil
	}
	e.clientAuthSent = true

	nonceC2 := crypto.NewNonce32()

	// Client signature data: SHA-256(user_id ‖ device_id ‖ nonce_c ‖
	// nonce_s ‖ server_ephemeral_pub), UTF-8 hex-string concatenation (§4.1).
	digest := crypto.Sha256Salt(
		[]byte(e.userID),
		[]byte(e.deviceID),
		[]byte(hex.EncodeToString(e.nonceC)),
		[]byte(hex.EncodeToString(e.nonceS)),
		[]byte(hex.EncodeToString(serverEphemeralPubRaw)),
	)
	sig := e.identity.Sign(digest)

	frame, err := wire.Encode(wire.TypeClientAuth, wire.ClientAuth{
		UserID:          e.userID,
		DeviceID:        e.deviceID,
		ClientSignature: hex.EncodeToString(sig),
		NonceC2:         hex.EncodeToString(nonceC2),
	})
	if err != nil {
		return err
	}
	return t.WriteFrame(frame)
}

func (e *Engine) awaitSessionEstablished(t Transport) (wire.SessionEstablished, error) {
	for {
		established, err := e.readSessionEstablishedFrame(t)
		if err == ErrDuplicateServerHello {
			continue
		}
		return established, err
	}
}

// readSessionEstablishedFrame reads one frame and classifies it; a
// retransmitted server_hello arriving after the client has already moved
// past awaiting_server_hello is reported as ErrDuplicateServerHello so
// the caller can discard it instead of failing the handshake (§4.1).
func (e *Engine) readSessionEstablishedFrame(t Transport) (wire.SessionEstablished, error) {
	var frame wire.Frame
	if err := t.ReadFrame(&frame); err != nil {
		return wire.SessionEstablished{}, err
	}
	if frame.Type == wire.TypeServerHello {
		return wire.SessionEstablished{}, ErrDuplicateServerHello
	}
	if frame.Type != wire.TypeSessionEstablished {
		return wire.SessionEstablished{}, ErrUnexpectedFrame
	}
	var established wire.SessionEstablished
	if err := frame.Decode(&established); err != nil {
		return wire.SessionEstablished{}, err
	}
	return established, nil
}

// clear wipes transient handshake state once ESTABLISHED (§4.1: "clears
// transient state").
func (e *Engine) clear() {
	e.clientEphemeral = nil
	e.nonceC = nil
	e.nonceS = nil
}
