package scratchpad

import (
	"encoding/base64"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pocketbridge/sync-core/internal/crypto"
	"github.com/pocketbridge/sync-core/internal/eventlog"
	"github.com/pocketbridge/sync-core/internal/identity"
	"github.com/pocketbridge/sync-core/internal/wire"
)

const StreamID = "scratchpad:main"

// decryptCacheSize bounds the per-adapter decrypted-update cache,
// avoiding re-decryption of the same stored event across repeated
// Rebuild calls.
const decryptCacheSize = 256

type crdtUpdatePayload struct {
	Type   string `json:"type"`
	Update string `json:"update"`
}

// Builder is the subset of the Event Builder this adapter needs.
type Builder interface {
	Build(streamID string, eventType wire.EventType, payload any, ttl *int64) (wire.Event, error)
}

// Adapter is the Scratchpad feature adapter (§4.6): one CRDT document
// per process, applying local edits and merging remote updates.
type Adapter struct {
	builder Builder
	log     *eventlog.Log
	idStore *identity.Store
	doc     *Doc

	decrypted *lru.Cache[string, Update]
}

// New constructs a Scratchpad adapter for siteID (the local device_id),
// rebuilding the document from any events already in the log
// (§4.6 "Rebuild from Event Log").
func New(builder Builder, log *eventlog.Log, idStore *identity.Store, siteID string) (*Adapter, error) {
	cache, _ := lru.New[string, Update](decryptCacheSize)
	a := &Adapter{builder: builder, log: log, idStore: idStore, doc: NewDoc(siteID), decrypted: cache}
	if err := a.Rebuild(); err != nil {
		return nil, err
	}
	return a, nil
}

// Rebuild re-initializes the document and replays every stream event in
// stream_seq order (§4.6).
func (a *Adapter) Rebuild() error {
	a.doc = NewDoc(a.doc.siteID)
	events, err := a.log.ByStream(StreamID)
	if err != nil {
		return err
	}
	for _, s := range events {
		update, err := a.decryptCached(s.EventID, s.EncryptedPayload)
		if err != nil {
			continue
		}
		a.doc.Apply(update)
	}
	return nil
}

// decryptCached serves a previously-decrypted Update from the LRU cache
// when present, falling back to decrypt and populating the cache
// otherwise.
func (a *Adapter) decryptCached(eventID, encryptedPayload string) (Update, error) {
	if update, ok := a.decrypted.Get(eventID); ok {
		return update, nil
	}
	update, err := a.decrypt(encryptedPayload)
	if err != nil {
		return Update{}, err
	}
	a.decrypted.Add(eventID, update)
	return update, nil
}

// Text returns the document's current rendered content.
func (a *Adapter) Text() string {
	return a.doc.Text()
}

// InsertAtEnd appends text locally and emits the resulting update as a
// scratchpad:op event. The update is applied to the local document
// before the event is built, so Apply-on-receive of the same op later
// (echoed back by the relay) is a harmless no-op — this is how the
// adapter "guarantees local edits never re-emit remote updates."
func (a *Adapter) InsertAtEnd(text string) error {
	update := a.doc.InsertAtEnd(text)
	return a.emit(update)
}

// DeleteRange deletes a visible-character range locally and emits the
// resulting update.
func (a *Adapter) DeleteRange(start, end int) error {
	update := a.doc.DeleteRange(start, end)
	return a.emit(update)
}

func (a *Adapter) emit(update Update) error {
	if len(update.Elements) == 0 {
		return nil
	}
	raw, err := MarshalUpdate(update)
	if err != nil {
		return err
	}
	_, err = a.builder.Build(StreamID, wire.EventScratchpadOp, crdtUpdatePayload{
		Type:   "crdt_update",
		Update: base64.StdEncoding.EncodeToString(raw),
	}, nil)
	return err
}

// ApplyRemote merges an inbound scratchpad:op event into the document;
// wired as a stream observer by the Sync Engine (§4.5 "notify all
// registered stream observers").
func (a *Adapter) ApplyRemote(ev wire.Event) {
	if ev.StreamID != StreamID {
		return
	}
	update, err := a.decryptCached(ev.EventID, ev.EncryptedPayload)
	if err != nil {
		return
	}
	a.doc.Apply(update)
}

func (a *Adapter) decrypt(encryptedPayload string) (Update, error) {
	sealed, err := base64.StdEncoding.DecodeString(encryptedPayload)
	if err != nil {
		return Update{}, err
	}
	plaintext, err := crypto.Decrypt(a.idStore.SharedKey(), sealed)
	if err != nil {
		return Update{}, err
	}
	var p crdtUpdatePayload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return Update{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(p.Update)
	if err != nil {
		return Update{}, err
	}
	return UnmarshalUpdate(raw)
}
