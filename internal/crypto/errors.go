package crypto

import "errors"

var (
	ErrInvalidKeyLength  = errors.New("crypto: invalid key length")
	ErrInvalidSignature  = errors.New("crypto: invalid signature")
	ErrInvalidNonce      = errors.New("crypto: invalid nonce length")
	ErrEncryptionFailed  = errors.New("crypto: encryption failed")
	ErrDecryptionFailed  = errors.New("crypto: decryption failed")
	ErrKeyDerivationFail = errors.New("crypto: key derivation failed")
)
