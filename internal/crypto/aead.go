package crypto

import (
	"crypto/aes"
	"crypto/cipher"
)

// NonceSize is the AES-GCM nonce length used throughout this spec (§3:
// "12-byte nonce").
const NonceSize = 12

// Encrypt seals plaintext under key (must be 32 bytes, AES-256) with a
// freshly generated nonce and returns nonce‖ciphertext‖tag, the layout §3
// requires for encrypted_payload before base64 encoding.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := NewNonce()
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// Decrypt reverses Encrypt: it expects nonce‖ciphertext‖tag and returns the
// recovered plaintext. An AEAD authentication failure returns
// ErrDecryptionFailed, which callers (§7 "DecryptFailed") treat as silent,
// debug-logged noise rather than a hard error.
func Decrypt(key, nonceAndCiphertext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonceAndCiphertext) < NonceSize {
		return nil, ErrInvalidNonce
	}
	nonce := nonceAndCiphertext[:NonceSize]
	ciphertext := nonceAndCiphertext[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
