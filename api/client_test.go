package api

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pocketbridge/sync-core/internal/pairing"
	"github.com/pocketbridge/sync-core/internal/wire"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(WithWsURL("ws://test.invalid/ws"), WithDeviceName("test device"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewWiresEveryFeatureAdapter(t *testing.T) {
	c := newTestClient(t)
	require.NotNil(t, c.Clipboard)
	require.NotNil(t, c.Scratchpad)
	require.NotNil(t, c.Messages)
	require.NotNil(t, c.Files)
	require.NotEmpty(t, c.IdentityPublicKeyHex())
}

func TestClipboardSendThenLatestRoundTrips(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.Clipboard.SendClipboardText("hello from device A"))

	text, ok, err := c.Clipboard.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello from device A", text)
}

func TestQueueStatusReflectsPendingEvents(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.Clipboard.SendClipboardText("queued while offline"))

	status, err := c.QueueStatus()
	require.NoError(t, err)
	require.Equal(t, 1, status.PendingCount)
	require.Equal(t, uint64(0), status.LastAckDeviceSeq)
	require.NotZero(t, status.OldestPendingCreateAt)
}

func TestExportThenImportIntoFreshClientRestoresData(t *testing.T) {
	source := newTestClient(t)
	require.NoError(t, source.Clipboard.SendClipboardText("exported value"))

	blob, err := source.Export()
	require.NoError(t, err)

	dest := newTestClient(t)
	require.NoError(t, dest.Import(blob))

	stored, err := dest.log.ByStream("clipboard:main")
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestIntegrityCheckPassesOnFreshLog(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.Clipboard.SendClipboardText("a"))
	require.NoError(t, c.Scratchpad.InsertAtEnd("b"))

	report, err := c.IntegrityCheck()
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Equal(t, 2, report.TotalEvents)
}

func TestClearWipesIdentityAndLogUntilCryptoInit(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.Clipboard.SendClipboardText("will be wiped"))
	oldUserID := c.IdentityPublicKeyHex()

	require.NoError(t, c.Clear())

	// Wiped: no identity, no Device Record, and identity/device-dependent
	// operations fail with KindNotInitialized until CryptoInit runs.
	require.Empty(t, c.IdentityPublicKeyHex())
	err := c.Connect()
	var coreErr *CoreError
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, KindNotInitialized, coreErr.Kind())

	err = c.Clipboard.SendClipboardText("should fail, no shared key")
	require.Error(t, err)

	status, err := c.QueueStatus()
	require.NoError(t, err)
	require.Zero(t, status.PendingCount)

	newUserID, err := c.CryptoInit()
	require.NoError(t, err)
	require.NotEmpty(t, newUserID)
	require.NotEqual(t, oldUserID, newUserID)
	require.Equal(t, newUserID, c.IdentityPublicKeyHex())

	// Idempotent: a second CryptoInit call is a no-op returning the same id.
	again, err := c.CryptoInit()
	require.NoError(t, err)
	require.Equal(t, newUserID, again)

	// Usable again post re-init.
	require.NoError(t, c.Clipboard.SendClipboardText("after re-init"))
}

func TestObserveStreamFiltersByStreamID(t *testing.T) {
	c := newTestClient(t)

	var clipboardEvents, scratchpadEvents int
	unsubClipboard := c.ObserveStream("clipboard:main", func(wire.Event) { clipboardEvents++ })
	c.ObserveStream("scratchpad:other-device", func(wire.Event) { scratchpadEvents++ })

	c.engine.OnEvent(wire.Event{StreamID: "clipboard:main", EventID: "e1"})
	c.engine.OnEvent(wire.Event{StreamID: "messages:shared", EventID: "e2"})

	require.Equal(t, 1, clipboardEvents)
	require.Equal(t, 0, scratchpadEvents)

	unsubClipboard()
	c.engine.OnEvent(wire.Event{StreamID: "clipboard:main", EventID: "e3"})
	require.Equal(t, 1, clipboardEvents)
}

func TestPairingGenerateThenConsumeAdoptsIdentity(t *testing.T) {
	store := pairing.NewStore(time.Minute)
	t.Cleanup(store.Close)
	srv := httptest.NewServer(pairing.NewRouter(store))
	t.Cleanup(srv.Close)

	sharer, err := New(WithWsURL("ws://test.invalid/ws"), WithPairingAPIURL(srv.URL+"/api"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sharer.Close() })

	receiver, err := New(WithWsURL("ws://test.invalid/ws"), WithPairingAPIURL(srv.URL+"/api"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = receiver.Close() })

	code, _, err := sharer.PairingGenerate(context.Background())
	require.NoError(t, err)

	require.NoError(t, receiver.PairingConsume(context.Background(), code))
	require.Equal(t, sharer.IdentityPublicKeyHex(), receiver.IdentityPublicKeyHex())
}
