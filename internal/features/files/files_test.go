package files

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pocketbridge/sync-core/internal/crypto"
	"github.com/pocketbridge/sync-core/internal/events"
	"github.com/pocketbridge/sync-core/internal/eventlog"
	"github.com/pocketbridge/sync-core/internal/identity"
	"github.com/pocketbridge/sync-core/internal/storage"
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
	return New(builder, log, idStore), log
}

func TestUploadThenReassembleRoundTrips(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.WithChunkSize(5 * 1024).WithParallelChunks(3)

	data := make([]byte, 12*1024)
	for i := range data {
		data[i] = byte(i % 256)
	}

	require.NoError(t, a.Upload("file-1", "photo.bin", "application/octet-stream", data))

	out, err := a.Reassemble("file-1")
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestUploadOverMaxFileBytesIsRejected(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.WithMaxFileBytes(10)

	err := a.Upload("file-1", "too-big.bin", "application/octet-stream", make([]byte, 100))
	require.Error(t, err)
}

func TestTamperedChunkFailsIntegrityCheck(t *testing.T) {
	a, log := newTestAdapter(t)
	a.WithChunkSize(5 * 1024 * 1024)

	data := []byte("hello chunked world")
	require.NoError(t, a.Upload("file-2", "note.txt", "text/plain", data))

	stored, err := log.ByStream(ChunkStreamID("file-2"))
	require.NoError(t, err)
	require.Len(t, stored, 1)

	tampered := stored[0]
	raw, err := base64.StdEncoding.DecodeString(tampered.EncryptedPayload)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	tampered.EncryptedPayload = base64.StdEncoding.EncodeToString(raw)
	require.NoError(t, log.Put(tampered))

	_, err = a.Reassemble("file-2")
	require.Error(t, err)
}

func TestMultiChunkUploadProducesExpectedChunkCount(t *testing.T) {
	a, log := newTestAdapter(t)
	a.WithChunkSize(4).WithParallelChunks(2)

	require.NoError(t, a.Upload("file-3", "tiny.bin", "application/octet-stream", []byte("0123456789ab")))

	stored, err := log.ByStream(ChunkStreamID("file-3"))
	require.NoError(t, err)
	require.Len(t, stored, 3)
}

func TestFileKeyIsFreshPerUpload(t *testing.T) {
	a, _ := newTestAdapter(t)

	require.NoError(t, a.Upload("file-a", "a.bin", "application/octet-stream", []byte("aaa")))
	require.NoError(t, a.Upload("file-b", "b.bin", "application/octet-stream", []byte("bbb")))

	keyA, err := a.fileKey("file-a")
	require.NoError(t, err)
	keyB, err := a.fileKey("file-b")
	require.NoError(t, err)
	require.NotEqual(t, keyA, keyB)
	require.Len(t, keyA, crypto.KeySize)
}
