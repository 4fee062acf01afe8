// Package eventlog implements the Event Log and Sequence Allocator (§4.3):
// the append-mostly local store of Encrypted Events and the per-device
// monotonic counter used to stamp them.
package eventlog

import (
	"encoding/binary"
	"sync"

	"github.com/pocketbridge/sync-core/internal/storage"
)

var (
	deviceSeqKey  = []byte("seq:device_seq")
	lastAckSeqKey = []byte("seq:last_ack_device_seq")
)

// Allocator persists a single non-decreasing device_seq counter and
// reconciles it against the relay's last_ack_device_seq on every session
// establishment (§4.3).
type Allocator struct {
	kv storage.KV

	mu        sync.Mutex
	deviceSeq uint64
	lastAck   uint64
}

// NewAllocator loads persisted counters from kv, defaulting both to 0.
func NewAllocator(kv storage.KV) (*Allocator, error) {
	a := &Allocator{kv: kv}

	if v, err := a.loadUint64(deviceSeqKey); err != nil {
		return nil, err
	} else {
		a.deviceSeq = v
	}
	if v, err := a.loadUint64(lastAckSeqKey); err != nil {
		return nil, err
	} else {
		a.lastAck = v
	}
	return a, nil
}

func (a *Allocator) loadUint64(key []byte) (uint64, error) {
	raw, found, err := a.kv.Get(key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return binary.BigEndian.Uint64(raw), nil
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// Next returns device_seq + 1 and persists the new value atomically
// (§4.3: "`next()` returns `device_seq + 1` and persists the new value
// atomically").
func (a *Allocator) Next() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.deviceSeq + 1
	if err := a.kv.Set(deviceSeqKey, encodeUint64(next)); err != nil {
		return 0, err
	}
	a.deviceSeq = next
	return next, nil
}

// LastAckDeviceSeq returns the last device_seq the relay has acknowledged.
func (a *Allocator) LastAckDeviceSeq() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastAck
}

// DeviceSeq returns the current (last-allocated) device_seq.
func (a *Allocator) DeviceSeq() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deviceSeq
}

// AdvanceAck raises last_ack_device_seq to max(current, seq) and persists
// it (§4.5: "advance `last_ack_device_seq = max(last_ack_device_seq,
// device_seq)` and persist").
func (a *Allocator) AdvanceAck(seq uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seq <= a.lastAck {
		return nil
	}
	if err := a.kv.Set(lastAckSeqKey, encodeUint64(seq)); err != nil {
		return err
	}
	a.lastAck = seq
	return nil
}

// Reconcile applies the session_established reconciliation rule (§4.3):
// if device_seq <= last_ack_device_seq, advance device_seq to match. This
// is the defense against duplicate deliveries after a crash-restart.
func (a *Allocator) Reconcile(lastAckFromServer uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if lastAckFromServer > a.lastAck {
		if err := a.kv.Set(lastAckSeqKey, encodeUint64(lastAckFromServer)); err != nil {
			return err
		}
		a.lastAck = lastAckFromServer
	}

	if a.deviceSeq <= a.lastAck {
		if err := a.kv.Set(deviceSeqKey, encodeUint64(a.lastAck)); err != nil {
			return err
		}
		a.deviceSeq = a.lastAck
	}
	return nil
}

// ResetForFullResync zeroes both counters (§4.2 full_resync_required:
// "resets `last_ack_device_seq` to 0").
func (a *Allocator) ResetForFullResync() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.kv.Set(deviceSeqKey, encodeUint64(0)); err != nil {
		return err
	}
	if err := a.kv.Set(lastAckSeqKey, encodeUint64(0)); err != nil {
		return err
	}
	a.deviceSeq = 0
	a.lastAck = 0
	return nil
}
