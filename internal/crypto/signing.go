package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
)

// Identity wraps an Ed25519 keypair: the device's long-term identity, and
// the user identifier shared across every device of that user (§3 "Device
// Identity").
type Identity struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// NewIdentity generates a fresh Ed25519 identity keypair.
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return &Identity{PrivateKey: priv, PublicKey: pub}, nil
}

// IdentityFromPrivateKeyHex reconstructs an Identity from a hex-encoded
// Ed25519 private key, as received over a pairing transfer.
func IdentityFromPrivateKeyHex(hexKey string) (*Identity, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeyLength
	}
	priv := ed25519.PrivateKey(raw)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidKeyLength
	}
	return &Identity{PrivateKey: priv, PublicKey: pub}, nil
}

// PublicKeyHex is the user identifier used throughout the event model.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.PublicKey)
}

func (id *Identity) PrivateKeyHex() string {
	return hex.EncodeToString(id.PrivateKey)
}

// Sign produces an Ed25519 signature over data.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.PrivateKey, data)
}

// VerifySignature checks an Ed25519 signature against a raw public key.
func VerifySignature(publicKey ed25519.PublicKey, data, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, data, sig)
}

// PublicKeyFromHex decodes a hex-encoded Ed25519 public key.
func PublicKeyFromHex(hexKey string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidKeyLength
	}
	return ed25519.PublicKey(raw), nil
}
