package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
)

// Sha256Hex returns the lowercase hex SHA-256 digest of data, used for
// per-chunk file integrity hashes (§4.6).
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sha512Hex returns the lowercase hex SHA-512 digest of data, used by
// identity.Store.SafetyNumber to compute a human-verifiable fingerprint
// for out-of-band comparison between devices.
func Sha512Hex(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}
