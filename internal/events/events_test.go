package events

import (
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pocketbridge/sync-core/internal/crypto"
	"github.com/pocketbridge/sync-core/internal/eventlog"
	"github.com/pocketbridge/sync-core/internal/identity"
	"github.com/pocketbridge/sync-core/internal/storage"
	"github.com/pocketbridge/sync-core/internal/wire"
)

type fixedClock struct{ millis int64 }

func (c fixedClock) NowMillis() int64 { return c.millis }

type recordingTransmitter struct{ sent []wire.Event }

func (r *recordingTransmitter) Send(ev wire.Event) { r.sent = append(r.sent, ev) }

func newTestBuilder(t *testing.T) (*Builder, *eventlog.Log, *identity.Store, *recordingTransmitter) {
	t.Helper()
	kv, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	idStore, err := identity.NewStore(kv)
	require.NoError(t, err)

	deviceStore, err := identity.NewDeviceStore(kv, "Test Device", identity.DeviceTypeDesktop)
	require.NoError(t, err)
	device, err := deviceStore.Get()
	require.NoError(t, err)

	log := eventlog.NewLog(kv, 0, 0)
	allocator, err := eventlog.NewAllocator(kv)
	require.NoError(t, err)

	tx := &recordingTransmitter{}
	b := NewBuilder(log, allocator, idStore, device, fixedClock{millis: 1_700_000_000_000}, tx)
	return b, log, idStore, tx
}

func TestBuildAppendsAndTransmits(t *testing.T) {
	b, log, idStore, tx := newTestBuilder(t)

	ev, err := b.Build("clipboard:main", wire.EventClipboardText, map[string]string{"text": "hello"}, nil)
	require.NoError(t, err)

	require.Equal(t, uint64(1), ev.DeviceSeq)
	require.Equal(t, idStore.UserID(), ev.UserID)
	require.Len(t, tx.sent, 1)
	require.Equal(t, ev.EventID, tx.sent[0].EventID)

	stored, found, err := log.Get(ev.EventID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ev.StreamID, stored.StreamID)
}

func TestBuildEncryptsPayloadUnderSharedKey(t *testing.T) {
	b, _, idStore, _ := newTestBuilder(t)

	ev, err := b.Build("clipboard:main", wire.EventClipboardText, map[string]string{"text": "secret"}, nil)
	require.NoError(t, err)

	sealed, err := base64.StdEncoding.DecodeString(ev.EncryptedPayload)
	require.NoError(t, err)

	plaintext, err := crypto.Decrypt(idStore.SharedKey(), sealed)
	require.NoError(t, err)
	require.JSONEq(t, `{"text":"secret"}`, string(plaintext))
}

func TestBuildAllocatesMonotonicSeq(t *testing.T) {
	b, _, _, _ := newTestBuilder(t)

	ev1, err := b.Build("clipboard:main", wire.EventClipboardText, map[string]string{"text": "a"}, nil)
	require.NoError(t, err)
	ev2, err := b.Build("clipboard:main", wire.EventClipboardText, map[string]string{"text": "b"}, nil)
	require.NoError(t, err)

	require.Equal(t, uint64(1), ev1.DeviceSeq)
	require.Equal(t, uint64(2), ev2.DeviceSeq)
}

func TestNewEventIDIsUnique(t *testing.T) {
	id1 := NewEventID(1_700_000_000_000)
	id2 := NewEventID(1_700_000_000_000)
	require.NotEqual(t, id1, id2, "random suffix must differ even for identical timestamps")
	require.Len(t, id1, 32)
}

func TestDeviceIDFormatsAsUUID(t *testing.T) {
	d := identity.Device{ID: uuid.New()}
	require.NotEmpty(t, d.ID.String())
	require.Len(t, d.ID.String(), 36) // 8-4-4-4-12 hex digits with hyphens
}
