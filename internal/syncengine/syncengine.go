// Package syncengine implements the Sync Engine (§4.5): reconciles the
// Sequence Allocator, acknowledges stale Pending events, drives paginated
// replay, and drains the Pending Queue after (re)connection.
package syncengine

import (
	"time"

	"github.com/pocketbridge/sync-core/internal/eventlog"
	"github.com/pocketbridge/sync-core/internal/handshake"
	"github.com/pocketbridge/sync-core/internal/identity"
	"github.com/pocketbridge/sync-core/internal/wire"
)

// ReplayPageLimit is the page size used in replay_request (§4.5: "limit =
// 100").
const ReplayPageLimit = 100

// replayContinuationDelay is the pause between paginated replay requests
// (§4.5: "100 ms suffices").
const replayContinuationDelay = 100 * time.Millisecond

// Sender is the subset of the Connection Manager the Sync Engine drives
// frames through.
type Sender interface {
	Send(ev wire.Event)
	SendControl(t wire.FrameType, payload any) error
}

// StreamObserver is notified of every inbound event, regardless of
// feature adapter (§4.5: "notify all registered stream observers").
type StreamObserver func(ev wire.Event)

// Engine is the Sync Engine (§4.5).
type Engine struct {
	log       *eventlog.Log
	allocator *eventlog.Allocator
	idStore   *identity.Store
	device    identity.Device
	sender    Sender

	observers []StreamObserver

	sleep func(time.Duration)
}

// NewEngine constructs a Sync Engine.
func NewEngine(log *eventlog.Log, allocator *eventlog.Allocator, idStore *identity.Store, device identity.Device, sender Sender) *Engine {
	return &Engine{
		log: log, allocator: allocator, idStore: idStore, device: device, sender: sender,
		sleep: time.Sleep,
	}
}

// Observe registers a stream observer (§4.8 feature.<name>.observe).
func (e *Engine) Observe(fn StreamObserver) {
	e.observers = append(e.observers, fn)
}

func (e *Engine) notify(ev wire.Event) {
	for _, fn := range e.observers {
		if fn != nil {
			fn(ev)
		}
	}
}

// OnSessionEstablished runs the four-step post-handshake sequence
// (§4.5): reconcile, ack-stale, replay, drain.
func (e *Engine) OnSessionEstablished(result handshake.Result) {
	if err := e.allocator.Reconcile(result.LastAckDeviceSeq); err != nil {
		return
	}

	e.ackStalePending()

	if result.LastAckDeviceSeq > 0 {
		e.requestReplay(result.LastAckDeviceSeq, "")
	}

	e.drainPending()
}

// ackStalePending locally acknowledges Pending events that are either
// from a stale identity or already covered by last_ack_device_seq (§4.5
// step 2).
func (e *Engine) ackStalePending() {
	all, err := e.log.ByDeviceRange(e.device.ID.String(), 0)
	if err != nil {
		return
	}
	lastAck := e.allocator.LastAckDeviceSeq()
	userID := e.idStore.UserID()
	for _, s := range all {
		if s.UserID != userID || s.DeviceSeq <= lastAck {
			_ = e.allocator.AdvanceAck(s.DeviceSeq)
		}
	}
}

func (e *Engine) requestReplay(lastAck uint64, continuationToken string) {
	_ = e.sender.SendControl(wire.TypeReplayRequest, wire.ReplayRequest{
		LastAckDeviceSeq:  lastAck,
		Limit:             ReplayPageLimit,
		ContinuationToken: continuationToken,
	})
}

// OnReplayResponse ingests a page of replayed events, acking each, and
// re-requests the next page after a short delay if more remain (§4.5
// step 3).
func (e *Engine) OnReplayResponse(resp wire.ReplayResponse) {
	for _, ev := range resp.Events {
		e.ingestInbound(ev)
	}
	if resp.HasMore {
		e.sleep(replayContinuationDelay)
		e.requestReplay(e.allocator.LastAckDeviceSeq(), resp.ContinuationToken)
	}
}

// OnEvent handles an inbound event frame: append, notify, ack (§4.5).
func (e *Engine) OnEvent(ev wire.Event) {
	e.ingestInbound(ev)
}

func (e *Engine) ingestInbound(ev wire.Event) {
	if err := e.log.Append(ev); err != nil {
		return
	}
	e.notify(ev)
	_ = e.sender.SendControl(wire.TypeAck, wire.Ack{DeviceSeq: ev.DeviceSeq})
}

// OnAck advances last_ack_device_seq (§4.5 step: "advance
// last_ack_device_seq = max(last_ack_device_seq, device_seq)").
func (e *Engine) OnAck(ack wire.Ack) {
	_ = e.allocator.AdvanceAck(ack.DeviceSeq)
}

// drainPending sends every event in the (filtered) Pending Queue in
// device_seq order (§4.5 step 4).
func (e *Engine) drainPending() {
	pending, err := e.log.PendingQueue(e.device.ID.String(), e.idStore.UserID(), e.allocator.LastAckDeviceSeq())
	if err != nil {
		return
	}
	for _, s := range pending {
		e.sender.Send(s.Event)
	}
}

// OnSessionExpiringSoon is forwarded by the Manager; the rotation
// scheduling itself lives in the Connection Manager (§4.2), this hook
// exists so the external API can surface the signal if desired.
func (e *Engine) OnSessionExpiringSoon(wire.SessionExpiringSoon) {}

// OnFullResyncRequired clears local state per §4.2: "clears the Event
// Log, resets last_ack_device_seq to 0."
func (e *Engine) OnFullResyncRequired(wire.FullResyncRequired) {
	_ = e.log.Clear()
	_ = e.allocator.ResetForFullResync()
}
