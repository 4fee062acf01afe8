package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
)

// EphemeralKeyPair is a per-session ECDH P-256 keypair, used once by the
// Handshake Engine (§4.1) and discarded.
type EphemeralKeyPair struct {
	private *ecdh.PrivateKey
}

// NewEphemeralKeyPair generates a fresh P-256 ECDH keypair.
func NewEphemeralKeyPair() (*EphemeralKeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &EphemeralKeyPair{private: priv}, nil
}

// PublicKeyRaw returns the uncompressed SEC1 public key bytes to place on
// the wire (§4.1: "client_ephemeral_pub (P-256, raw)").
func (k *EphemeralKeyPair) PublicKeyRaw() []byte {
	return k.private.PublicKey().Bytes()
}

// SharedSecret computes the ECDH shared secret with a peer's raw public key.
func (k *EphemeralKeyPair) SharedSecret(peerPublicKeyRaw []byte) ([]byte, error) {
	peerPub, err := ecdh.P256().NewPublicKey(peerPublicKeyRaw)
	if err != nil {
		return nil, err
	}
	return k.private.ECDH(peerPub)
}
