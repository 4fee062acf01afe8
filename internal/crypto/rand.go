package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
)

// RandomBytes fills dst with cryptographically secure random bytes.
// Adapted from the teacher's randpool.Rand: randomness failures are a
// critical environment fault, not a recoverable error, so this panics
// rather than threading an error through every caller.
func RandomBytes(dst []byte) {
	if len(dst) == 0 {
		return
	}
	if _, err := io.ReadFull(rand.Reader, dst); err != nil {
		panic(fmt.Errorf("crypto: failed to read secure randomness: %w", err))
	}
}

// NewNonce returns a fresh 12-byte AES-GCM nonce.
func NewNonce() []byte {
	n := make([]byte, NonceSize)
	RandomBytes(n)
	return n
}

// NewNonce32 returns 32 fresh random bytes, the handshake's nonce_c /
// nonce_s / nonce_c2 size (§4.1, §3 "Handshake State").
func NewNonce32() []byte {
	n := make([]byte, 32)
	RandomBytes(n)
	return n
}
