// Package events implements the Event Builder (§4.4): turns a feature
// adapter's plaintext payload into a persisted, encrypted, sequenced
// Encrypted Event.
package events

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pocketbridge/sync-core/internal/crypto"
	"github.com/pocketbridge/sync-core/internal/eventlog"
	"github.com/pocketbridge/sync-core/internal/identity"
	"github.com/pocketbridge/sync-core/internal/wire"
)

// Transmitter hands a freshly built event off for network delivery
// (§4.4 step 5: "hand to the Connection Manager for transmission").
// Implemented by the Connection Manager; kept as an interface here so
// the Event Builder never imports the connection package.
type Transmitter interface {
	Send(ev wire.Event)
}

// Clock abstracts wall-clock access so builder behavior is deterministic
// under test.
type Clock interface {
	NowMillis() int64
}

// Builder composes and persists Encrypted Events (§4.4).
type Builder struct {
	log       *eventlog.Log
	allocator *eventlog.Allocator
	idStore   *identity.Store
	device    identity.Device
	clock     Clock
	tx        Transmitter
}

// NewBuilder constructs a Builder. tx may be nil until a Connection
// Manager is attached via SetTransmitter (e.g. during offline startup).
func NewBuilder(log *eventlog.Log, allocator *eventlog.Allocator, idStore *identity.Store, device identity.Device, clock Clock, tx Transmitter) *Builder {
	return &Builder{log: log, allocator: allocator, idStore: idStore, device: device, clock: clock, tx: tx}
}

// SetTransmitter attaches (or replaces) the Connection Manager handoff
// target.
func (b *Builder) SetTransmitter(tx Transmitter) {
	b.tx = tx
}

// SetDevice rebinds the Device Record events are stamped with, used when
// a post-data.clear() re-init (§4.8 CryptoInit) mints a fresh Device
// Record in place of the wiped one.
func (b *Builder) SetDevice(device identity.Device) {
	b.device = device
}

// Build runs the five-step Event Builder pipeline (§4.4: serialize,
// encrypt, stamp, append, handoff) and returns the resulting event.
// Atomicity is satisfied by appending to the Event Log before returning;
// the handoff to the transmitter happens synchronously afterward so a
// crash after Build returns never loses the append.
func (b *Builder) Build(streamID string, eventType wire.EventType, payload any, ttl *int64) (wire.Event, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return wire.Event{}, err
	}

	sealed, err := crypto.Encrypt(b.idStore.SharedKey(), plaintext)
	if err != nil {
		return wire.Event{}, err
	}

	seq, err := b.allocator.Next()
	if err != nil {
		return wire.Event{}, err
	}

	now := b.clock.NowMillis()
	ev := wire.Event{
		EventID:          NewEventID(now),
		UserID:           b.idStore.UserID(),
		DeviceID:         b.device.ID.String(),
		DeviceSeq:        seq,
		StreamID:         streamID,
		Type:             eventType,
		EncryptedPayload: base64.StdEncoding.EncodeToString(sealed),
		TTL:              ttl,
		CreatedAt:        now,
	}

	if err := b.log.Append(ev); err != nil {
		return wire.Event{}, err
	}

	if b.tx != nil {
		b.tx.Send(ev)
	}

	return ev, nil
}
