// Package messages implements the self-destruct message feature adapter
// (§4.6): ephemeral text with a wall-clock expiry. Reads filter the
// Event Log by ttl; an active-set cache times each live message and
// erases its payload when it expires.
package messages

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/pocketbridge/sync-core/internal/crypto"
	"github.com/pocketbridge/sync-core/internal/eventlog"
	"github.com/pocketbridge/sync-core/internal/identity"
	"github.com/pocketbridge/sync-core/internal/wire"
)

const StreamID = "messages:main"

type payload struct {
	Text      string `json:"text"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Message is one decrypted, still-active self-destruct message.
type Message struct {
	EventID   string
	Text      string
	ExpiresAt int64
}

// Builder composes and transmits one message:self_destruct event.
type Builder interface {
	Build(streamID string, eventType wire.EventType, payload any, ttl *int64) (wire.Event, error)
}

// Clock abstracts wall-clock access so expiry is deterministic under
// test.
type Clock interface {
	NowMillis() int64
}

// Adapter is the self-destruct message feature adapter (§4.6). It keeps
// a ttlcache active-set mirroring each live event's ttl, whose expiry
// callback erases the payload. GetActiveMessages does not consult the
// cache: it scans the Event Log, the source of truth (and of replay
// history), and checks each event's ttl itself.
type Adapter struct {
	builder Builder
	log     *eventlog.Log
	idStore *identity.Store
	clock   Clock

	active *ttlcache.Cache[string, int64]
}

// New constructs a self-destruct message adapter and seeds the active
// set from any events already in the log (§4.6 "Rebuild from Event
// Log").
func New(builder Builder, log *eventlog.Log, idStore *identity.Store, clock Clock) (*Adapter, error) {
	a := &Adapter{
		builder: builder,
		log:     log,
		idStore: idStore,
		clock:   clock,
		active:  ttlcache.New[string, int64](),
	}
	a.active.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, int64]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		_ = a.erasePayload(item.Key())
	})
	go a.active.Start()

	stored, err := log.ByStream(StreamID)
	if err != nil {
		return nil, err
	}
	now := clock.NowMillis()
	for _, s := range stored {
		if s.PayloadDeleted || s.TTL == nil || *s.TTL <= now {
			continue
		}
		a.active.Set(s.EventID, *s.TTL, time.Duration(*s.TTL-now)*time.Millisecond)
	}
	return a, nil
}

// Send emits a self-destruct message whose event-level ttl equals
// expiresAt (§4.6: "event-level ttl = expiresAt").
func (a *Adapter) Send(text string, expiresAt int64) error {
	ttl := expiresAt
	ev, err := a.builder.Build(StreamID, wire.EventMessageSelf, payload{Text: text, ExpiresAt: expiresAt}, &ttl)
	if err != nil {
		return err
	}

	now := a.clock.NowMillis()
	if expiresAt > now {
		a.active.Set(ev.EventID, expiresAt, time.Duration(expiresAt-now)*time.Millisecond)
	}
	return nil
}

// GetActiveMessages returns every message whose ttl is still in the
// future and whose payload has not been locally erased (§4.6).
func (a *Adapter) GetActiveMessages() ([]Message, error) {
	stored, err := a.log.ByStream(StreamID)
	if err != nil {
		return nil, err
	}

	now := a.clock.NowMillis()
	var out []Message
	for _, s := range stored {
		if s.PayloadDeleted || s.TTL == nil || *s.TTL <= now {
			continue
		}
		text, err := a.decrypt(s.EncryptedPayload)
		if err != nil {
			continue
		}
		out = append(out, Message{EventID: s.EventID, Text: text, ExpiresAt: *s.TTL})
	}
	return out, nil
}

// Close stops the active-set's background eviction goroutine.
func (a *Adapter) Close() {
	a.active.Stop()
}

// DeleteMessagePayload overwrites the event's encrypted_payload with
// empty and sets the local payload_deleted marker; the event metadata
// is kept so replay accounting (device_seq, stream_seq) stays correct
// (§4.6).
func (a *Adapter) DeleteMessagePayload(eventID string) error {
	if err := a.erasePayload(eventID); err != nil {
		return err
	}
	a.active.Delete(eventID)
	return nil
}

// erasePayload performs the log-level erasure only; it is shared between
// the explicit delete path and the OnEviction callback above, which must
// not call back into a.active.Delete from within its own eviction.
func (a *Adapter) erasePayload(eventID string) error {
	s, found, err := a.log.Get(eventID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	s.EncryptedPayload = ""
	s.PayloadDeleted = true
	s.DeletedAt = a.clock.NowMillis()
	return a.log.Put(s)
}

// ApplyRemote registers an inbound self-destruct message event's ttl in
// the active set so it gets an eviction timer even when it arrived via
// sync rather than through Send (§4.6, §4.5 inbound event ingestion).
func (a *Adapter) ApplyRemote(ev wire.Event) {
	if ev.StreamID != StreamID || ev.TTL == nil {
		return
	}
	now := a.clock.NowMillis()
	if *ev.TTL <= now {
		return
	}
	a.active.Set(ev.EventID, *ev.TTL, time.Duration(*ev.TTL-now)*time.Millisecond)
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
