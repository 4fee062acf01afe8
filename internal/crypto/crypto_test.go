package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	RandomBytes(key)

	plaintext := []byte(`{"text":"hello from device A"}`)
	sealed, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	require.True(t, len(sealed) > NonceSize)

	recovered, err := Decrypt(key, sealed)
	require.NoError(t, err)
	require.True(t, bytes.Equal(plaintext, recovered))
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key := make([]byte, KeySize)
	RandomBytes(key)
	other := make([]byte, KeySize)
	RandomBytes(other)

	sealed, err := Encrypt(key, []byte("payload"))
	require.NoError(t, err)

	_, err = Decrypt(other, sealed)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestIdentitySignVerify(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	data := []byte("device_id||nonce||server_ephemeral_pub")
	sig := id.Sign(data)
	require.True(t, VerifySignature(id.PublicKey, data, sig))
	require.False(t, VerifySignature(id.PublicKey, data, append([]byte{}, sig[:len(sig)-1]...)))
}

func TestIdentityFromPrivateKeyHexRoundTrip(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	restored, err := IdentityFromPrivateKeyHex(id.PrivateKeyHex())
	require.NoError(t, err)
	require.Equal(t, id.PublicKeyHex(), restored.PublicKeyHex())
}

func TestECDHSharedSecretMatches(t *testing.T) {
	a, err := NewEphemeralKeyPair()
	require.NoError(t, err)
	b, err := NewEphemeralKeyPair()
	require.NoError(t, err)

	secretA, err := a.SharedSecret(b.PublicKeyRaw())
	require.NoError(t, err)
	secretB, err := b.SharedSecret(a.PublicKeyRaw())
	require.NoError(t, err)

	require.True(t, bytes.Equal(secretA, secretB))
}

func TestDeriveKeyDeterministic(t *testing.T) {
	secret := []byte("shared-secret")
	salt := Sha256Salt([]byte("a"), []byte("b"))

	k1 := DeriveKey(secret, salt, []byte("info"))
	k2 := DeriveKey(secret, salt, []byte("info"))
	require.True(t, bytes.Equal(k1, k2))
	require.Len(t, k1, KeySize)

	k3 := DeriveKey(secret, salt, []byte("different-info"))
	require.False(t, bytes.Equal(k1, k3))
}
