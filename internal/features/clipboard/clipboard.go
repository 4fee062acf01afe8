// Package clipboard implements the Clipboard feature adapter (§4.6):
// last-write-wins text sharing on stream clipboard:main.
package clipboard

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pocketbridge/sync-core/internal/crypto"
	"github.com/pocketbridge/sync-core/internal/eventlog"
	"github.com/pocketbridge/sync-core/internal/identity"
	"github.com/pocketbridge/sync-core/internal/wire"
)

// decryptCacheSize bounds the per-adapter decrypted-value cache; the
// stream only ever has one winning value at a time, but keeping a
// handful of recent entries avoids re-decrypting on every Latest() call
// during a burst of rapid LWW updates from peers.
const decryptCacheSize = 32

const StreamID = "clipboard:main"

type payload struct {
	Text string `json:"text"`
}

// Builder composes and transmits one clipboard:text event per change.
type Builder interface {
	Build(streamID string, eventType wire.EventType, payload any, ttl *int64) (wire.Event, error)
}

// Adapter is the Clipboard feature adapter (§4.6).
type Adapter struct {
	builder Builder
	log     *eventlog.Log
	idStore *identity.Store

	mu       sync.Mutex
	lastSent string

	decrypted *lru.Cache[string, string]
}

// New constructs a Clipboard adapter.
func New(builder Builder, log *eventlog.Log, idStore *identity.Store) *Adapter {
	cache, _ := lru.New[string, string](decryptCacheSize)
	return &Adapter{builder: builder, log: log, idStore: idStore, decrypted: cache}
}

// SendClipboardText builds one event per change, suppressing duplicate
// or empty inputs by comparing against the last-sent text in process
// memory (§4.6).
func (a *Adapter) SendClipboardText(text string) error {
	a.mu.Lock()
	if text == "" || text == a.lastSent {
		a.mu.Unlock()
		return nil
	}
	a.lastSent = text
	a.mu.Unlock()

	_, err := a.builder.Build(StreamID, wire.EventClipboardText, payload{Text: text}, nil)
	return err
}

// Latest returns the decrypted text of the event with the largest
// stream_seq (falling back to device_seq when stream_seq is unassigned),
// per §4.6.
func (a *Adapter) Latest() (string, bool, error) {
	events, err := a.log.ByStream(StreamID)
	if err != nil {
		return "", false, err
	}
	if len(events) == 0 {
		return "", false, nil
	}

	winner := events[0]
	for _, ev := range events[1:] {
		if rank(ev) > rank(winner) {
			winner = ev
		}
	}

	text, err := a.decryptCached(winner.EventID, winner.EncryptedPayload)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// decryptCached serves decrypted plaintext from the LRU cache when
// present, falling back to decrypt and populating the cache otherwise.
func (a *Adapter) decryptCached(eventID, encryptedPayload string) (string, error) {
	if text, ok := a.decrypted.Get(eventID); ok {
		return text, nil
	}
	text, err := a.decrypt(encryptedPayload)
	if err != nil {
		return "", err
	}
	a.decrypted.Add(eventID, text)
	return text, nil
}

// rank orders events for last-write-wins resolution: stream_seq when
// assigned, device_seq otherwise.
func rank(s eventlog.Stored) uint64 {
	if s.StreamSeq > 0 {
		return s.StreamSeq
	}
	return s.DeviceSeq
}

func (a *Adapter) decrypt(encryptedPayload string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encryptedPayload)
	if err != nil {
		return "", err
	}
	plaintext, err := crypto.Decrypt(a.idStore.SharedKey(), sealed)
	if err != nil {
		return "", err
	}
	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return "", err
	}
	return p.Text, nil
}
