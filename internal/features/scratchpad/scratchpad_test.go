package scratchpad

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pocketbridge/sync-core/internal/events"
	"github.com/pocketbridge/sync-core/internal/eventlog"
	"github.com/pocketbridge/sync-core/internal/identity"
	"github.com/pocketbridge/sync-core/internal/storage"
	"github.com/pocketbridge/sync-core/internal/wire"
)

type fixedClock struct{ millis int64 }

func (c fixedClock) NowMillis() int64 { return c.millis }

func newTestAdapter(t *testing.T) (*Adapter, *eventlog.Log) {
	t.Helper()
	kv, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	idStore, err := identity.NewStore(kv)
	require.NoError(t, err)
	deviceStore, err := identity.NewDeviceStore(kv, "d", identity.DeviceTypeDesktop)
	require.NoError(t, err)
	device, err := deviceStore.Get()
	require.NoError(t, err)

	log := eventlog.NewLog(kv, 0, 0)
	allocator, err := eventlog.NewAllocator(kv)
	require.NoError(t, err)

	builder := events.NewBuilder(log, allocator, idStore, device, fixedClock{millis: 1}, nil)
	a, err := New(builder, log, idStore, device.ID.String())
	require.NoError(t, err)
	return a, log
}

func TestInsertEmitsEventAndUpdatesLocalDoc(t *testing.T) {
	a, log := newTestAdapter(t)

	require.NoError(t, a.InsertAtEnd("hello"))
	require.Equal(t, "hello", a.Text())

	stored, err := log.ByStream(StreamID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestRebuildReconstructsDocFromLog(t *testing.T) {
	a, log := newTestAdapter(t)
	require.NoError(t, a.InsertAtEnd("hello"))

	fresh, err := New(a.builder, log, a.idStore, "another-site")
	require.NoError(t, err)
	require.Equal(t, "hello", fresh.Text())
}

func TestApplyRemoteIgnoresOtherStreams(t *testing.T) {
	a, _ := newTestAdapter(t)
	before := a.Text()

	a.ApplyRemote(wire.Event{StreamID: "clipboard:main"})
	require.Equal(t, before, a.Text())
}
