package identity

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/pocketbridge/sync-core/internal/storage"
)

var deviceKey = []byte("identity:device")

// wsURLKey and suggestedDeviceNameKey are the §6 "Persisted state layout"
// keys for pairing-supplied connection hints: `ws_url` is listed verbatim
// in that table; the device-name suggestion has no dedicated key there
// but §4.7 requires persisting it alongside the endpoint.
var wsURLKey = []byte("ws_url")
var suggestedDeviceNameKey = []byte("identity:suggested_device_name")

// DeviceType tags the kind of installation a Device Record describes
// (§3 "Device Record": "mobile/desktop/web").
type DeviceType string

const (
	DeviceTypeMobile  DeviceType = "mobile"
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeWeb     DeviceType = "web"
)

// Device is the per-installation identifier persisted once and mutated
// only through Rename (§3 "Device Record").
type Device struct {
	ID   uuid.UUID  `json:"device_id"`
	Name string     `json:"name"`
	Type DeviceType `json:"type"`
}

// DeviceStore persists the single local Device Record.
type DeviceStore struct {
	kv storage.KV
}

// NewDeviceStore loads the Device Record from kv, minting a fresh random
// UUID v4 device_id on first run.
func NewDeviceStore(kv storage.KV, defaultName string, deviceType DeviceType) (*DeviceStore, error) {
	ds := &DeviceStore{kv: kv}

	_, found, err := kv.Get(deviceKey)
	if err != nil {
		return nil, err
	}
	if found {
		return ds, nil
	}

	if _, err := ds.Reseed(defaultName, deviceType); err != nil {
		return nil, err
	}
	return ds, nil
}

// Reseed mints a fresh random UUID v4 device_id and persists it as the
// Device Record, unconditionally overwriting whatever was there. Used by
// NewDeviceStore on first run and by a post-data.clear() re-init (§4.8
// CryptoInit), which needs a fresh installation identifier after Wipe.
func (ds *DeviceStore) Reseed(defaultName string, deviceType DeviceType) (Device, error) {
	d := Device{ID: uuid.New(), Name: defaultName, Type: deviceType}
	if err := ds.save(d); err != nil {
		return Device{}, err
	}
	return d, nil
}

// Wipe destroys the persisted Device Record (§4.8 data.clear()). Get
// returns storage.ErrNotFound until Reseed is called again.
func (ds *DeviceStore) Wipe() error {
	return ds.kv.Delete(deviceKey)
}

func (ds *DeviceStore) save(d Device) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return ds.kv.Set(deviceKey, data)
}

// Initialized reports whether a Device Record is currently persisted.
func (ds *DeviceStore) Initialized() bool {
	_, found, err := ds.kv.Get(deviceKey)
	return err == nil && found
}

// Get returns the current Device Record.
func (ds *DeviceStore) Get() (Device, error) {
	raw, found, err := ds.kv.Get(deviceKey)
	if err != nil {
		return Device{}, err
	}
	if !found {
		return Device{}, storage.ErrNotFound
	}
	var d Device
	if err := json.Unmarshal(raw, &d); err != nil {
		return Device{}, err
	}
	return d, nil
}

// Rename updates the Device Record's human-readable name, the only
// mutation §3 allows on an existing record.
func (ds *DeviceStore) Rename(name string) error {
	d, err := ds.Get()
	if err != nil {
		return err
	}
	d.Name = name
	return ds.save(d)
}

// SetWsURL persists a pairing-supplied relay endpoint under the `ws_url`
// key (§6 "Persisted state layout"). It does not itself change any live
// dial target; callers apply it to the Connection Manager separately.
func (ds *DeviceStore) SetWsURL(url string) error {
	return ds.kv.Set(wsURLKey, []byte(url))
}

// WsURL returns the persisted pairing-supplied endpoint, if any.
func (ds *DeviceStore) WsURL() (url string, found bool, err error) {
	raw, found, err := ds.kv.Get(wsURLKey)
	if err != nil || !found {
		return "", found, err
	}
	return string(raw), true, nil
}

// SetSuggestedDeviceName persists the device-name suggestion a pairing
// Receive carries (§4.7), without renaming the Device Record itself —
// renaming stays an explicit operation (§3).
func (ds *DeviceStore) SetSuggestedDeviceName(name string) error {
	return ds.kv.Set(suggestedDeviceNameKey, []byte(name))
}

// SuggestedDeviceName returns the last pairing-supplied device-name
// suggestion, if any.
func (ds *DeviceStore) SuggestedDeviceName() (name string, found bool, err error) {
	raw, found, err := ds.kv.Get(suggestedDeviceNameKey)
	if err != nil || !found {
		return "", found, err
	}
	return string(raw), true, nil
}
