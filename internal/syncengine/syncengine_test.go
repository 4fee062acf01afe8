package syncengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pocketbridge/sync-core/internal/eventlog"
	"github.com/pocketbridge/sync-core/internal/handshake"
	"github.com/pocketbridge/sync-core/internal/identity"
	"github.com/pocketbridge/sync-core/internal/storage"
	"github.com/pocketbridge/sync-core/internal/wire"
)

type fakeSender struct {
	sent     []wire.Event
	controls []wire.FrameType
	replays  []wire.ReplayRequest
}

func (f *fakeSender) Send(ev wire.Event) { f.sent = append(f.sent, ev) }
func (f *fakeSender) SendControl(t wire.FrameType, payload any) error {
	f.controls = append(f.controls, t)
	if req, ok := payload.(wire.ReplayRequest); ok {
		f.replays = append(f.replays, req)
	}
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *eventlog.Log, *eventlog.Allocator, *identity.Store, *fakeSender) {
	t.Helper()
	kv, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	log := eventlog.NewLog(kv, 0, 0)
	allocator, err := eventlog.NewAllocator(kv)
	require.NoError(t, err)
	idStore, err := identity.NewStore(kv)
	require.NoError(t, err)
	deviceStore, err := identity.NewDeviceStore(kv, "d", identity.DeviceTypeDesktop)
	require.NoError(t, err)
	device, err := deviceStore.Get()
	require.NoError(t, err)

	sender := &fakeSender{}
	e := NewEngine(log, allocator, idStore, device, sender)
	e.sleep = func(time.Duration) {}
	return e, log, allocator, idStore, sender
}

func TestOnSessionEstablishedRequestsReplayWhenAckNonZero(t *testing.T) {
	e, _, _, _, sender := newTestEngine(t)

	e.OnSessionEstablished(handshake.Result{LastAckDeviceSeq: 5})
	require.Len(t, sender.replays, 1)
	require.Equal(t, uint64(5), sender.replays[0].LastAckDeviceSeq)
}

func TestOnSessionEstablishedSkipsReplayWhenAckZero(t *testing.T) {
	e, _, _, _, sender := newTestEngine(t)

	e.OnSessionEstablished(handshake.Result{LastAckDeviceSeq: 0})
	require.Empty(t, sender.replays)
}

func TestOnEventAppendsNotifiesAndAcks(t *testing.T) {
	e, log, _, _, sender := newTestEngine(t)

	var notified []wire.Event
	e.Observe(func(ev wire.Event) { notified = append(notified, ev) })

	ev := wire.Event{EventID: "e1", DeviceID: "peer-device", DeviceSeq: 1, StreamID: "clipboard:main"}
	e.OnEvent(ev)

	_, found, err := log.Get("e1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, notified, 1)
	require.Contains(t, sender.controls, wire.TypeAck)
}

func TestOnAckAdvancesAllocator(t *testing.T) {
	e, _, allocator, _, _ := newTestEngine(t)
	e.OnAck(wire.Ack{DeviceSeq: 9})
	require.Equal(t, uint64(9), allocator.LastAckDeviceSeq())
}

func TestOnReplayResponseRequestsNextPageWhenHasMore(t *testing.T) {
	e, _, _, _, sender := newTestEngine(t)

	e.OnReplayResponse(wire.ReplayResponse{
		Events:            []wire.Event{{EventID: "e1", DeviceID: "peer", DeviceSeq: 1, StreamID: "s"}},
		HasMore:           true,
		ContinuationToken: "tok1",
	})

	require.Contains(t, sender.controls, wire.TypeReplayRequest)
	require.Equal(t, "tok1", sender.replays[len(sender.replays)-1].ContinuationToken)
}

func TestOnFullResyncRequiredClearsState(t *testing.T) {
	e, log, allocator, _, _ := newTestEngine(t)
	require.NoError(t, log.Append(wire.Event{EventID: "e1", DeviceID: "d1", DeviceSeq: 1, StreamID: "s"}))
	require.NoError(t, allocator.AdvanceAck(1))

	e.OnFullResyncRequired(wire.FullResyncRequired{Reason: "server requested"})

	count, _, err := log.Count()
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Equal(t, uint64(0), allocator.LastAckDeviceSeq())
}

func TestDrainPendingSendsUnacknowledgedEvents(t *testing.T) {
	e, log, _, idStore, sender := newTestEngine(t)

	ev := wire.Event{EventID: "e1", DeviceID: e.device.ID.String(), DeviceSeq: 1, UserID: idStore.UserID(), StreamID: "s"}
	require.NoError(t, log.Append(ev))

	e.drainPending()
	require.Len(t, sender.sent, 1)
	require.Equal(t, "e1", sender.sent[0].EventID)
}
