package pairing

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pocketbridge/sync-core/internal/identity"
	"github.com/pocketbridge/sync-core/internal/storage"
)

type fakeReconnector struct {
	calls int
	wsURL string
}

func (f *fakeReconnector) RequestRotation()     { f.calls++ }
func (f *fakeReconnector) SetWsURL(url string) { f.wsURL = url }

func newTestIDStore(t *testing.T) *identity.Store {
	t.Helper()
	kv, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	idStore, err := identity.NewStore(kv)
	require.NoError(t, err)
	return idStore
}

func newTestDeviceStore(t *testing.T) *identity.DeviceStore {
	t.Helper()
	kv, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	ds, err := identity.NewDeviceStore(kv, "test-device", identity.DeviceTypeDesktop)
	require.NoError(t, err)
	return ds
}

func TestShareThenReceiveAdoptsSameIdentity(t *testing.T) {
	store := NewStore(time.Minute)
	t.Cleanup(store.Close)
	srv := httptest.NewServer(NewRouter(store))
	t.Cleanup(srv.Close)

	sharer := newTestIDStore(t)
	sharerCoord := New(srv.URL+"/api", sharer, nil, "laptop", nil)

	code, expiresAt, err := sharerCoord.Share(context.Background(), "wss://relay.example.com/ws")
	require.NoError(t, err)
	require.Len(t, code, 6)
	require.Greater(t, expiresAt, time.Now().UnixMilli())

	receiver := newTestIDStore(t)
	receiverDevices := newTestDeviceStore(t)
	reconnector := &fakeReconnector{}
	receiverCoord := New(srv.URL+"/api", receiver, receiverDevices, "phone", reconnector)

	require.NoError(t, receiverCoord.Receive(context.Background(), code))
	require.Equal(t, sharer.UserID(), receiver.UserID())
	require.Equal(t, 1, reconnector.calls)
	require.Equal(t, "wss://relay.example.com/ws", reconnector.wsURL)

	persistedURL, found, err := receiverDevices.WsURL()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "wss://relay.example.com/ws", persistedURL)

	suggestedName, found, err := receiverDevices.SuggestedDeviceName()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "laptop", suggestedName)
}

func TestReceiveUnknownCodeFails(t *testing.T) {
	store := NewStore(time.Minute)
	t.Cleanup(store.Close)
	srv := httptest.NewServer(NewRouter(store))
	t.Cleanup(srv.Close)

	receiver := newTestIDStore(t)
	coord := New(srv.URL+"/api", receiver, nil, "phone", nil)

	err := coord.Receive(context.Background(), "000000")
	require.Error(t, err)
}

func TestShareRateLimitedAfterThreeCodes(t *testing.T) {
	store := NewStore(time.Minute)
	t.Cleanup(store.Close)
	srv := httptest.NewServer(NewRouter(store))
	t.Cleanup(srv.Close)

	sharer := newTestIDStore(t)
	coord := New(srv.URL+"/api", sharer, nil, "laptop", nil)

	for i := 0; i < 3; i++ {
		_, _, err := coord.Share(context.Background(), "wss://relay.example.com/ws")
		require.NoError(t, err)
	}

	_, _, err := coord.Share(context.Background(), "wss://relay.example.com/ws")
	require.ErrorIs(t, err, ErrRateLimited)
}
