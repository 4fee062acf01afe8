package eventlog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pocketbridge/sync-core/internal/storage"
)

func newTestAllocator(t *testing.T) (*Allocator, storage.KV) {
	t.Helper()
	kv, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	a, err := NewAllocator(kv)
	require.NoError(t, err)
	return a, kv
}

func TestNextIsMonotonic(t *testing.T) {
	a, _ := newTestAllocator(t)

	n1, err := a.Next()
	require.NoError(t, err)
	n2, err := a.Next()
	require.NoError(t, err)

	require.Equal(t, uint64(1), n1)
	require.Equal(t, uint64(2), n2)
}

func TestNextPersistsAcrossReload(t *testing.T) {
	a, kv := newTestAllocator(t)
	_, err := a.Next()
	require.NoError(t, err)
	_, err = a.Next()
	require.NoError(t, err)

	reloaded, err := NewAllocator(kv)
	require.NoError(t, err)
	require.Equal(t, uint64(2), reloaded.DeviceSeq())
}

func TestReconcileAdvancesStaleCounter(t *testing.T) {
	a, _ := newTestAllocator(t)

	// Crash-restart scenario: device_seq lags behind what the relay
	// already acknowledged.
	require.NoError(t, a.Reconcile(10))
	require.Equal(t, uint64(10), a.DeviceSeq())
	require.Equal(t, uint64(10), a.LastAckDeviceSeq())

	next, err := a.Next()
	require.NoError(t, err)
	require.Equal(t, uint64(11), next)
}

func TestReconcileDoesNotRewindAheadCounter(t *testing.T) {
	a, _ := newTestAllocator(t)
	_, err := a.Next()
	require.NoError(t, err)
	_, err = a.Next()
	require.NoError(t, err)
	_, err = a.Next()
	require.NoError(t, err)

	require.NoError(t, a.Reconcile(1))
	require.Equal(t, uint64(3), a.DeviceSeq(), "device_seq ahead of last_ack must not be rewound")
}

func TestAdvanceAckIsMonotonic(t *testing.T) {
	a, _ := newTestAllocator(t)
	require.NoError(t, a.AdvanceAck(5))
	require.NoError(t, a.AdvanceAck(3))
	require.Equal(t, uint64(5), a.LastAckDeviceSeq())
}

func TestResetForFullResync(t *testing.T) {
	a, _ := newTestAllocator(t)
	_, err := a.Next()
	require.NoError(t, err)
	require.NoError(t, a.AdvanceAck(1))

	require.NoError(t, a.ResetForFullResync())
	require.Equal(t, uint64(0), a.DeviceSeq())
	require.Equal(t, uint64(0), a.LastAckDeviceSeq())
}
