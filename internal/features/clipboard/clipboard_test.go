package clipboard

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

func newTestAdapter(t *testing.T) *Adapter {
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
	return New(builder, log, idStore)
}

func TestSendAndLatest(t *testing.T) {
	a := newTestAdapter(t)

	require.NoError(t, a.SendClipboardText("hello"))
	text, found, err := a.Latest()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hello", text)
}

func TestDuplicateSendsAreSuppressed(t *testing.T) {
	a := newTestAdapter(t)

	require.NoError(t, a.SendClipboardText("hello"))
	require.NoError(t, a.SendClipboardText("hello"))

	stored, err := a.log.ByStream(StreamID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestEmptySendIsSuppressed(t *testing.T) {
	a := newTestAdapter(t)
	require.NoError(t, a.SendClipboardText(""))

	_, found, err := a.Latest()
	require.NoError(t, err)
	require.False(t, found)
}

func TestLatestFallsBackToHighestDeviceSeq(t *testing.T) {
	a := newTestAdapter(t)
	require.NoError(t, a.SendClipboardText("first"))
	require.NoError(t, a.SendClipboardText("second"))

	text, found, err := a.Latest()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "second", text)
}
