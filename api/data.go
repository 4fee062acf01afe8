package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/pocketbridge/sync-core/internal/crypto"
	"github.com/pocketbridge/sync-core/internal/eventlog"
	"github.com/pocketbridge/sync-core/internal/identity"
)

func freshIdentity() (*crypto.Identity, error) {
	return crypto.NewIdentity()
}

var errNotInitialized = errors.New("identity wiped by data.clear(); call CryptoInit before further operations")

// ExportedLog is the JSON-serializable form of the entire local Event
// Log, used by data.export()/data.import() (§4.8).
type ExportedLog struct {
	Events []eventlog.Stored `json:"events"`
}

// Export serializes every locally stored event, encrypted payloads
// included, as an opaque blob a caller can persist or transfer
// out-of-band (§4.8 data.export()).
func (c *Client) Export() ([]byte, error) {
	all, err := c.log.All()
	if err != nil {
		return nil, newCoreError(KindValidation, err)
	}
	data, err := json.Marshal(ExportedLog{Events: all})
	if err != nil {
		return nil, newCoreError(KindValidation, err)
	}
	return data, nil
}

// Import re-ingests a blob previously produced by Export, idempotently:
// events already present by event_id are silently preserved, matching
// the Event Log's own Append discipline (§4.3, §4.8 data.import()).
func (c *Client) Import(blob []byte) error {
	var exported ExportedLog
	if err := json.Unmarshal(blob, &exported); err != nil {
		return newCoreError(KindValidation, fmt.Errorf("decode export blob: %w", err))
	}
	for _, s := range exported.Events {
		if err := c.log.Append(s.Event); err != nil {
			return newCoreError(KindValidation, err)
		}
		if s.PayloadDeleted {
			if err := c.log.Put(s); err != nil {
				return newCoreError(KindValidation, err)
			}
		}
	}
	return nil
}

// IntegrityReport summarizes the result of IntegrityCheck.
type IntegrityReport struct {
	TotalEvents            int
	DuplicateDeviceSeqs    []string // "device_id:device_seq" pairs seen more than once
	NonMonotonicStreamSeqs []string // stream_ids where stream_seq regresses
}

// OK reports whether the log passed every invariant check.
func (r IntegrityReport) OK() bool {
	return len(r.DuplicateDeviceSeqs) == 0 && len(r.NonMonotonicStreamSeqs) == 0
}

// IntegrityCheck walks the entire local Event Log verifying the two
// invariants §3 guarantees hold: (device_id, device_seq) is unique, and
// stream_seq is non-decreasing within each stream (§4.8
// data.integrity_check()). It reports problems rather than returning an
// error, since a failed check is an expected, actionable outcome rather
// than an operational failure.
func (c *Client) IntegrityCheck() (IntegrityReport, error) {
	all, err := c.log.All()
	if err != nil {
		return IntegrityReport{}, newCoreError(KindValidation, err)
	}

	report := IntegrityReport{TotalEvents: len(all)}

	seenDeviceSeq := make(map[string]bool, len(all))
	for _, s := range all {
		key := fmt.Sprintf("%s:%d", s.DeviceID, s.DeviceSeq)
		if seenDeviceSeq[key] {
			report.DuplicateDeviceSeqs = append(report.DuplicateDeviceSeqs, key)
		}
		seenDeviceSeq[key] = true
	}

	byStream := make(map[string][]eventlog.Stored)
	for _, s := range all {
		byStream[s.StreamID] = append(byStream[s.StreamID], s)
	}
	for streamID, events := range byStream {
		sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt < events[j].CreatedAt })
		last := uint64(0)
		for _, ev := range events {
			if ev.StreamSeq < last {
				report.NonMonotonicStreamSeqs = append(report.NonMonotonicStreamSeqs, streamID)
				break
			}
			last = ev.StreamSeq
		}
	}

	return report, nil
}

// Clear wipes the Event Log, Sequence Allocator, identity keypair, and
// Device Record, returning the Client to an uninitialized profile that
// rejects identity/device-dependent operations with KindNotInitialized
// until CryptoInit mints a fresh identity and Device Record (§4.8
// data.clear(): "wipe ... the identity keypair and device record ... and
// require re-crypto.init() before any further operation").
func (c *Client) Clear() error {
	if err := c.log.Clear(); err != nil {
		return newCoreError(KindValidation, err)
	}
	if err := c.allocator.ResetForFullResync(); err != nil {
		return newCoreError(KindValidation, err)
	}
	if err := c.idStore.Wipe(); err != nil {
		return newCoreError(KindValidation, err)
	}
	if err := c.deviceStore.Wipe(); err != nil {
		return newCoreError(KindValidation, err)
	}

	c.initialized = false
	return nil
}

// CryptoInit is the explicit re-init step Clear requires before any
// further identity/device-dependent operation (§4.8 crypto.init()).
// Idempotent: if the Client is still initialized (the common case, since
// New already performs this at construction), it returns the existing
// identity_public_key_hex unchanged. After a Clear, it mints a fresh
// identity keypair and a fresh Device Record (a new installation
// identifier, since the old one was wiped too) and rebinds the Event
// Builder to the new Device Record.
func (c *Client) CryptoInit() (string, error) {
	if c.initialized {
		return c.idStore.UserID(), nil
	}

	fresh, err := freshIdentity()
	if err != nil {
		return "", newCoreError(KindValidation, err)
	}
	if err := c.idStore.Reset(fresh); err != nil {
		return "", newCoreError(KindValidation, err)
	}
	c.manager.SetIdentity(fresh, c.idStore.UserID())

	device, err := c.deviceStore.Reseed(c.cfg.DeviceName, identity.DeviceTypeDesktop)
	if err != nil {
		return "", newCoreError(KindValidation, err)
	}
	c.builder.SetDevice(device)
	c.manager.SetDeviceID(device.ID.String())

	c.initialized = true
	return c.idStore.UserID(), nil
}
