package crypto

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the AES-256 key length produced by every HKDF derivation in
// this package.
const KeySize = 32

// DeriveKey runs HKDF-SHA256 over secret with the given salt/info and
// returns a 32-byte AES-256 key, matching the teacher's deriveKey helper
// (relaydns/core/cryptoops/handshaker.go) generalized to a reusable
// exported function since SPEC_FULL needs it for both the session-key and
// shared-key derivations (§3, §4.1).
func DeriveKey(secret, salt, info []byte) []byte {
	r := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, KeySize)
	if _, err := r.Read(key); err != nil {
		// HKDF-SHA256 only fails when asked for more than 255*32 bytes,
		// so reading 32 bytes cannot fail.
		panic(fmt.Sprintf("crypto: HKDF derivation failed: %v", err))
	}
	return key
}

// Sha256Salt computes SHA-256(parts...), used for the handshake's HKDF salt
// (§4.1) and the shared-key's HKDF salt (§3).
func Sha256Salt(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
