// Package pairing implements the Pairing Coordinator (§4.7): a
// Share/Receive flow for transferring a device's identity to a new
// installation via a short-lived, out-of-band 6-digit code, plus the
// relay-side HTTP surface (§6) that codes are exchanged through.
package pairing

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultTTL is the pairing store's default code lifetime.
const DefaultTTL = 2 * time.Minute

// Entry is the server-side record a Share call deposits under a code.
type Entry struct {
	UserID string          `json:"user_id"`
	Data   json.RawMessage `json:"data"`
}

// Store is the relay's pairing code store (§4.7: "POST {code, data} to
// the relay's pairing store with a short TTL"). Entries are one-shot:
// Lookup consumes and removes the entry, so a code cannot be replayed
// after first use.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries *ttlcache.Cache[string, Entry]
}

// NewStore constructs a pairing code store with the given code TTL (pass
// 0 for DefaultTTL).
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{ttl: ttl, entries: ttlcache.New[string, Entry]()}
	go s.entries.Start()
	return s
}

// Close stops the store's background eviction goroutine.
func (s *Store) Close() {
	s.entries.Stop()
}

// Put deposits data under code, expiring at time.Now()+ttl. Returns the
// wall-clock expiry as unix milliseconds.
func (s *Store) Put(code, userID string, data json.RawMessage) (expiresAt int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Set(code, Entry{UserID: userID, Data: data}, s.ttl)
	return time.Now().Add(s.ttl).UnixMilli(), nil
}

// Lookup retrieves and consumes the entry for code; found is false if no
// entry exists or it already expired.
func (s *Store) Lookup(code string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.entries.Get(code)
	if item == nil {
		return Entry{}, false
	}
	s.entries.Delete(code)
	return item.Value(), true
}
