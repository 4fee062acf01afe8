// Package identity owns the two pieces of durable per-installation state
// that sit above the raw crypto primitives: the long-term Ed25519 user
// identity (§3 "Device Identity") and the Device Record (§3 "Device
// Record"), plus the Shared Encryption Key derived from the former.
package identity

import (
	"sync"

	"github.com/pocketbridge/sync-core/internal/crypto"
	"github.com/pocketbridge/sync-core/internal/storage"
)

var identityKey = []byte("identity:keypair")

// Store persists the user identity keypair and caches the Shared
// Encryption Key derived from it, per §3: "Cached per-process, invalidated
// only on identity reset."
type Store struct {
	kv storage.KV

	mu        sync.RWMutex
	id        *crypto.Identity
	sharedKey []byte
	hasShared bool
}

// NewStore loads the identity from kv, generating and persisting a fresh
// one on first run.
func NewStore(kv storage.KV) (*Store, error) {
	s := &Store{kv: kv}

	raw, found, err := kv.Get(identityKey)
	if err != nil {
		return nil, err
	}
	if found {
		id, err := crypto.IdentityFromPrivateKeyHex(string(raw))
		if err != nil {
			return nil, err
		}
		s.id = id
		return s, nil
	}

	id, err := crypto.NewIdentity()
	if err != nil {
		return nil, err
	}
	if err := kv.Set(identityKey, []byte(id.PrivateKeyHex())); err != nil {
		return nil, err
	}
	s.id = id
	return s, nil
}

// Identity returns the current user identity keypair, or nil if the
// identity has been wiped (§4.8 data.clear()) and not yet replaced via
// Reset/CryptoInit.
func (s *Store) Identity() *crypto.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Initialized reports whether a usable identity is currently loaded.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id != nil
}

// UserID is the user identifier shared across all devices of this
// identity: the hex-encoded Ed25519 public key. Returns "" if wiped.
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.id == nil {
		return ""
	}
	return s.id.PublicKeyHex()
}

// SharedKey returns the AES-256 Shared Encryption Key, computing and
// caching it on first call per §3's derivation formula: HKDF-SHA256 with
// salt SHA-256("pocketbridge_shared_key_v1" ‖ identity_public_key_hex) and
// info "pocketbridge_event_encryption_v1". Returns nil if wiped; callers
// that feed this into crypto.Encrypt/Decrypt see a clean key-length error
// rather than a nil-pointer panic.
func (s *Store) SharedKey() []byte {
	s.mu.RLock()
	if s.id == nil {
		s.mu.RUnlock()
		return nil
	}
	if s.hasShared {
		key := s.sharedKey
		s.mu.RUnlock()
		return key
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == nil {
		return nil
	}
	if s.hasShared {
		return s.sharedKey
	}
	salt := crypto.Sha256Salt([]byte("pocketbridge_shared_key_v1"), []byte(s.id.PublicKeyHex()))
	s.sharedKey = crypto.DeriveKey(s.id.PrivateKey.Seed(), salt, []byte("pocketbridge_event_encryption_v1"))
	s.hasShared = true
	return s.sharedKey
}

// Reset replaces the identity with a freshly received one (§4.7 "Receive"
// pairing flow: "if the identity differs from the local one, replace it
// ... invalidate any cached shared key"), persisting it and dropping the
// Shared Encryption Key cache.
func (s *Store) Reset(id *crypto.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(identityKey, []byte(id.PrivateKeyHex())); err != nil {
		return err
	}
	s.id = id
	s.hasShared = false
	s.sharedKey = nil
	return nil
}

// Wipe destroys the persisted identity keypair and drops the in-memory
// keypair and Shared Encryption Key cache (§4.8 data.clear(): "wipe ...
// the identity keypair ... and require re-crypto.init() before any
// further operation"). After Wipe, Identity/UserID/SharedKey return zero
// values until Reset is called again (e.g. via CryptoInit).
func (s *Store) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(identityKey); err != nil {
		return err
	}
	s.id = nil
	s.hasShared = false
	s.sharedKey = nil
	return nil
}

// SafetyNumber returns a human-verifiable fingerprint of this identity's
// public key, for out-of-band comparison between two devices (derived
// from the Ed25519 public key via SHA-512, not yet surfaced by any
// feature adapter).
func (s *Store) SafetyNumber() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.id == nil {
		return ""
	}
	return crypto.Sha512Hex(s.id.PublicKey)
}
