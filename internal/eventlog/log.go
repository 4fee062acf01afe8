package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pocketbridge/sync-core/internal/storage"
	"github.com/pocketbridge/sync-core/internal/wire"
)

// Key layout:
//
//	ev:<event_id>                                 -> Event JSON
//	idx:stream:<stream_id>:<stream_seq padded>:<event_id>    -> event_id
//	idx:device:<device_id>:<device_seq padded>    -> event_id
//	idx:created:<created_at padded>:<event_id>    -> event_id
const (
	prefixEvent     = "ev:"
	prefixByStream  = "idx:stream:"
	prefixByDevice  = "idx:device:"
	prefixByCreated = "idx:created:"
)

// DefaultMaxCount and DefaultMaxBytes are the Pending Queue bounds (§3:
// "Bounded by both event count (default 10,000) and total payload bytes
// (default 100 MiB)").
const (
	DefaultMaxCount = 10_000
	DefaultMaxBytes = 100 * 1024 * 1024
	evictionBatch   = 100
)

// Stored is the on-disk representation of an Encrypted Event, carrying
// the local-only bookkeeping fields the feature adapters need
// (§4.6 self-destruct: "local `payload_deleted` marker").
type Stored struct {
	wire.Event
	PayloadDeleted bool  `json:"payload_deleted,omitempty"`
	DeletedAt      int64 `json:"deleted_at,omitempty"`
}

// Log is the append-mostly local Event Log (§4.3).
type Log struct {
	kv storage.KV

	maxCount int
	maxBytes int64

	mu sync.Mutex
}

// NewLog constructs a Log backed by kv with the given bounds; pass 0 to
// use the defaults.
func NewLog(kv storage.KV, maxCount int, maxBytes int64) *Log {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Log{kv: kv, maxCount: maxCount, maxBytes: maxBytes}
}

func pad64(v uint64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return string(buf)
}

func eventKey(eventID string) []byte {
	return []byte(prefixEvent + eventID)
}

func streamIndexKey(streamID string, streamSeq uint64, eventID string) []byte {
	return []byte(prefixByStream + streamID + ":" + pad64(streamSeq) + ":" + eventID)
}

func deviceIndexKey(deviceID string, deviceSeq uint64) []byte {
	return []byte(prefixByDevice + deviceID + ":" + pad64(deviceSeq))
}

func createdIndexKey(createdAt int64, eventID string) []byte {
	return []byte(prefixByCreated + pad64(uint64(createdAt)) + ":" + eventID)
}

// Append idempotently stores ev: an existing event_id is silently
// preserved (§4.3: "an existing `event_id` is silently preserved").
func (l *Log) Append(ev wire.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, found, err := l.kv.Get(eventKey(ev.EventID))
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	data, err := json.Marshal(Stored{Event: ev})
	if err != nil {
		return err
	}

	if err := l.kv.Batch(func(b storage.Batch) error {
		if err := b.Set(eventKey(ev.EventID), data); err != nil {
			return err
		}
		if err := b.Set(streamIndexKey(ev.StreamID, ev.StreamSeq, ev.EventID), []byte(ev.EventID)); err != nil {
			return err
		}
		if err := b.Set(deviceIndexKey(ev.DeviceID, ev.DeviceSeq), []byte(ev.EventID)); err != nil {
			return err
		}
		return b.Set(createdIndexKey(ev.CreatedAt, ev.EventID), []byte(ev.EventID))
	}); err != nil {
		return err
	}

	return l.evictIfOverBound()
}

// Get returns the stored event by event_id.
func (l *Log) Get(eventID string) (Stored, bool, error) {
	raw, found, err := l.kv.Get(eventKey(eventID))
	if err != nil || !found {
		return Stored{}, false, err
	}
	var s Stored
	if err := json.Unmarshal(raw, &s); err != nil {
		return Stored{}, false, err
	}
	return s, true, nil
}

// Put overwrites an already-stored event (used by feature adapters to
// set payload_deleted without disturbing indices, since key fields are
// unchanged).
func (l *Log) Put(s Stored) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return l.kv.Set(eventKey(s.EventID), data)
}

// ByStream returns every event for streamID in ascending stream_seq
// order (§4.3: "by `stream_id` (for replay and rebuild)").
func (l *Log) ByStream(streamID string) ([]Stored, error) {
	lower, upper := storage.PrefixRange([]byte(prefixByStream + streamID + ":"))
	var out []Stored
	err := l.kv.Scan(lower, upper, func(_, v []byte) bool {
		s, found, gerr := l.Get(string(v))
		if gerr == nil && found {
			out = append(out, s)
		}
		return true
	})
	return out, err
}

// ByDeviceRange returns events for deviceID with device_seq in
// (afterSeq, +inf), ascending, used for ack-driven pruning and the
// Pending Queue (§3, §4.3).
func (l *Log) ByDeviceRange(deviceID string, afterSeq uint64) ([]Stored, error) {
	lower := []byte(prefixByDevice + deviceID + ":" + pad64(afterSeq+1))
	_, upper := storage.PrefixRange([]byte(prefixByDevice + deviceID + ":"))
	var out []Stored
	err := l.kv.Scan(lower, upper, func(_, v []byte) bool {
		s, found, gerr := l.Get(string(v))
		if gerr == nil && found {
			out = append(out, s)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceSeq < out[j].DeviceSeq })
	return out, err
}

// PendingQueue returns the subset of the log where device_seq >
// lastAckDeviceSeq and user_id == userID (§3 "Pending Queue"), in
// device_seq order.
func (l *Log) PendingQueue(deviceID, userID string, lastAckDeviceSeq uint64) ([]Stored, error) {
	all, err := l.ByDeviceRange(deviceID, lastAckDeviceSeq)
	if err != nil {
		return nil, err
	}
	out := make([]Stored, 0, len(all))
	for _, s := range all {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

// Clear removes every stored event and index entry (§4.2
// full_resync_required: "clears the Event Log").
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, prefix := range []string{prefixEvent, prefixByStream, prefixByDevice, prefixByCreated} {
		lower, upper := storage.PrefixRange([]byte(prefix))
		var keys [][]byte
		if err := l.kv.Scan(lower, upper, func(k, _ []byte) bool {
			keys = append(keys, append([]byte(nil), k...))
			return true
		}); err != nil {
			return err
		}
		if err := l.kv.Batch(func(b storage.Batch) error {
			for _, k := range keys {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// All returns every stored event, in no particular order, used by
// data.export() and data.integrity_check() (§4.8).
func (l *Log) All() ([]Stored, error) {
	lower, upper := storage.PrefixRange([]byte(prefixEvent))
	var out []Stored
	err := l.kv.Scan(lower, upper, func(_, v []byte) bool {
		var s Stored
		if json.Unmarshal(v, &s) == nil {
			out = append(out, s)
		}
		return true
	})
	return out, err
}

// Count returns the number of stored events and the total byte size of
// their stored JSON records (payload and metadata together), used by the
// eviction bound check.
func (l *Log) Count() (count int, totalBytes int64, err error) {
	lower, upper := storage.PrefixRange([]byte(prefixEvent))
	err = l.kv.Scan(lower, upper, func(_, v []byte) bool {
		count++
		totalBytes += int64(len(v))
		return true
	})
	return count, totalBytes, err
}

// evictIfOverBound applies the oldest-by-created_at eviction policy in
// batches of 100 once either bound is exceeded (§4.3).
func (l *Log) evictIfOverBound() error {
	count, totalBytes, err := l.Count()
	if err != nil {
		return err
	}
	if count <= l.maxCount && totalBytes <= l.maxBytes {
		return nil
	}

	lower, upper := storage.PrefixRange([]byte(prefixByCreated))
	var toEvict []string
	if err := l.kv.Scan(lower, upper, func(_, v []byte) bool {
		toEvict = append(toEvict, string(v))
		return len(toEvict) < evictionBatch
	}); err != nil {
		return err
	}

	return l.kv.Batch(func(b storage.Batch) error {
		for _, eventID := range toEvict {
			s, found, gerr := l.Get(eventID)
			if gerr != nil {
				return gerr
			}
			if !found {
				continue
			}
			if err := b.Delete(eventKey(eventID)); err != nil {
				return err
			}
			if err := b.Delete(streamIndexKey(s.StreamID, s.StreamSeq, s.EventID)); err != nil {
				return err
			}
			if err := b.Delete(deviceIndexKey(s.DeviceID, s.DeviceSeq)); err != nil {
				return err
			}
			if err := b.Delete(createdIndexKey(s.CreatedAt, s.EventID)); err != nil {
				return err
			}
		}
		return nil
	})
}
