// Package api is the External API root handle (§4.8): the single object
// an embedding application constructs and drives. It wires identity,
// storage, the Event Log and Sequence Allocator, the Event Builder, the
// four feature adapters, the Sync Engine, the Connection Manager, and
// the Pairing Coordinator into one cohesive client, the same way the
// teacher's sdk.NewRDClient wires a producer/consumer pair around one
// config struct.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/pocketbridge/sync-core/internal/connection"
	"github.com/pocketbridge/sync-core/internal/events"
	"github.com/pocketbridge/sync-core/internal/eventlog"
	"github.com/pocketbridge/sync-core/internal/features/clipboard"
	"github.com/pocketbridge/sync-core/internal/features/files"
	"github.com/pocketbridge/sync-core/internal/features/messages"
	"github.com/pocketbridge/sync-core/internal/features/scratchpad"
	"github.com/pocketbridge/sync-core/internal/identity"
	"github.com/pocketbridge/sync-core/internal/pairing"
	"github.com/pocketbridge/sync-core/internal/storage"
	"github.com/pocketbridge/sync-core/internal/syncengine"
	"github.com/pocketbridge/sync-core/internal/wire"
	"github.com/pocketbridge/sync-core/transport/wsstream"
)

// wallClock is the only Clock implementation that reaches across a
// process boundary; every package under internal/ takes a Clock
// interface instead so tests can inject a fixed one.
type wallClock struct{}

func (wallClock) NowMillis() int64 { return time.Now().UnixMilli() }

// Client is the single External API entry point (§4.8).
type Client struct {
	cfg Config

	kv          storage.KV
	idStore     *identity.Store
	deviceStore *identity.DeviceStore
	log         *eventlog.Log
	allocator   *eventlog.Allocator
	builder     *events.Builder

	manager   *connection.Manager
	engine    *syncengine.Engine
	pairCoord *pairing.Coordinator

	Clipboard  *clipboard.Adapter
	Scratchpad *scratchpad.Adapter
	Messages   *messages.Adapter
	Files      *files.Adapter

	eventSubs   []func(wire.Event)
	initialized bool
}

// New constructs a Client from the given options, loading or
// initializing the Device Identity and Device Record as a side effect
// (§4.8 crypto.init()'s idempotent semantics apply equally to opening an
// existing profile and to minting a fresh one).
func New(opts ...Option) (*Client, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = applyDefaults(cfg)

	kv, err := openStorage(cfg.StorageDir)
	if err != nil {
		return nil, newCoreError(KindValidation, fmt.Errorf("open storage: %w", err))
	}

	idStore, err := identity.NewStore(kv)
	if err != nil {
		return nil, newCoreError(KindValidation, fmt.Errorf("load identity: %w", err))
	}
	deviceStore, err := identity.NewDeviceStore(kv, cfg.DeviceName, identity.DeviceTypeDesktop)
	if err != nil {
		return nil, newCoreError(KindValidation, fmt.Errorf("load device record: %w", err))
	}
	device, err := deviceStore.Get()
	if err != nil {
		return nil, newCoreError(KindValidation, fmt.Errorf("read device record: %w", err))
	}

	// A prior pairing.Receive may have persisted a relay endpoint (§6
	// `ws_url`, §4.7); an explicit WithWsURL option always wins, but an
	// unset one falls back to whatever pairing last left behind.
	if cfg.WsURL == "" {
		if persisted, found, err := deviceStore.WsURL(); err == nil && found {
			cfg.WsURL = persisted
			if cfg.PairingAPIURL == "" {
				cfg.PairingAPIURL = derivePairingAPIURL(cfg.WsURL)
			}
		}
	}

	log := eventlog.NewLog(kv, cfg.QueueMaxCount, cfg.QueueMaxBytes)
	allocator, err := eventlog.NewAllocator(kv)
	if err != nil {
		return nil, newCoreError(KindValidation, fmt.Errorf("load sequence allocator: %w", err))
	}

	builder := events.NewBuilder(log, allocator, idStore, device, wallClock{}, nil)

	clipboardAdapter := clipboard.New(builder, log, idStore)
	scratchpadAdapter, err := scratchpad.New(builder, log, idStore, device.ID.String())
	if err != nil {
		return nil, newCoreError(KindValidation, fmt.Errorf("rebuild scratchpad: %w", err))
	}
	messagesAdapter, err := messages.New(builder, log, idStore, wallClock{})
	if err != nil {
		return nil, newCoreError(KindValidation, fmt.Errorf("rebuild messages: %w", err))
	}
	filesAdapter := files.New(builder, log, idStore).
		WithChunkSize(cfg.ChunkSizeBytes).
		WithParallelChunks(cfg.ParallelChunks).
		WithMaxFileBytes(cfg.MaxFileBytes)

	c := &Client{
		cfg:         cfg,
		kv:          kv,
		idStore:     idStore,
		deviceStore: deviceStore,
		log:         log,
		allocator:   allocator,
		builder:     builder,
		Clipboard:   clipboardAdapter,
		Scratchpad:  scratchpadAdapter,
		Messages:    messagesAdapter,
		Files:       filesAdapter,
	}

	dialer := connection.Dialer(func(url string) (connection.Transport, error) {
		conn, err := wsstream.Dial(url)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
	// The Manager and the Sync Engine are mutually dependent: the engine
	// needs the Manager as its Sender, the Manager needs the engine as
	// its Handler. Construct the Manager first with no handler, build
	// the engine around it, then bind the handler back.
	manager := connection.NewManager(cfg.WsURL, idStore.Identity(), idStore.UserID(), device.ID.String(), dialer, nil)
	manager.SetHandshakeTimeout(time.Duration(cfg.HandshakeTimeoutMs) * time.Millisecond)
	manager.SetBackoff(time.Duration(cfg.ReconnectBaseMs)*time.Millisecond, time.Duration(cfg.ReconnectMaxMs)*time.Millisecond)
	builder.SetTransmitter(manager)
	c.manager = manager

	engine := syncengine.NewEngine(log, allocator, idStore, device, manager)
	engine.Observe(scratchpadAdapter.ApplyRemote)
	engine.Observe(messagesAdapter.ApplyRemote)
	engine.Observe(c.dispatchEvent)
	c.engine = engine

	manager.SetHandler(engine)

	c.pairCoord = pairing.New(cfg.PairingAPIURL, idStore, deviceStore, cfg.DeviceName, manager)

	c.initialized = true
	return c, nil
}

func openStorage(dir string) (storage.KV, error) {
	if dir == "" {
		return storage.OpenInMemory()
	}
	return storage.Open(dir)
}

// dispatchEvent fans an inbound event out to every External API
// subscriber registered via SubscribeEvent, in registration order; a
// handler that panics would take down the whole process the same way
// any other handler panic would, but an error return from one handler
// never prevents the rest from running, since none of them return
// anything to check (§5).
func (c *Client) dispatchEvent(ev wire.Event) {
	for _, fn := range c.eventSubs {
		fn(ev)
	}
}

// SubscribeEvent registers fn to observe every inbound event, across all
// feature streams (§4.8 subscribe_event).
func (c *Client) SubscribeEvent(fn func(wire.Event)) func() {
	c.eventSubs = append(c.eventSubs, fn)
	idx := len(c.eventSubs) - 1
	return func() {
		c.eventSubs[idx] = func(wire.Event) {}
	}
}

// ObserveStream registers fn to observe inbound events on a single stream,
// the generic form behind each adapter's feature.<name>.observe(stream,
// handler) (§4.8); the per-feature adapters don't each need their own
// pub/sub plumbing since every inbound event already funnels through
// dispatchEvent.
func (c *Client) ObserveStream(streamID string, fn func(wire.Event)) func() {
	return c.SubscribeEvent(func(ev wire.Event) {
		if ev.StreamID == streamID {
			fn(ev)
		}
	})
}

// SubscribeStatus registers a connection-status observer (§4.8).
func (c *Client) SubscribeStatus(fn connection.StatusHandler) func() {
	return c.manager.SubscribeStatus(fn)
}

// SubscribeError registers a connection-error observer (§4.8).
func (c *Client) SubscribeError(fn connection.ErrorHandler) func() {
	return c.manager.SubscribeError(fn)
}

// Connect starts the connection lifecycle (§4.8 connection.connect()).
// Returns KindNotInitialized if a prior Clear wiped the identity/Device
// Record and CryptoInit has not re-minted them since (§7).
func (c *Client) Connect() error {
	if !c.initialized {
		return newCoreError(KindNotInitialized, errNotInitialized)
	}
	c.manager.Connect()
	return nil
}

// Disconnect tears down the connection lifecycle (§4.8 connection.disconnect()).
func (c *Client) Disconnect() { c.manager.Disconnect() }

// Status reports the current connection lifecycle state.
func (c *Client) Status() connection.Status { return c.manager.Status() }

// IdentityPublicKeyHex returns the stable user identifier that
// crypto.init() exposes (§4.8).
func (c *Client) IdentityPublicKeyHex() string { return c.idStore.UserID() }

// TTLDefault returns the configured default self-destruct message
// lifetime (§6 `ttl_default_seconds`).
func (c *Client) TTLDefault() time.Duration {
	return time.Duration(c.cfg.TTLDefaultSeconds) * time.Second
}

// SafetyNumber returns the out-of-band verification fingerprint for the
// local identity (§3).
func (c *Client) SafetyNumber() string { return c.idStore.SafetyNumber() }

// PairingGenerate produces a one-time pairing code for another device to
// consume (§4.8 pairing.generate()). Returns KindNotInitialized if a
// prior Clear wiped the identity and CryptoInit has not re-minted it
// since (§7) — sharing identity material requires having one.
func (c *Client) PairingGenerate(ctx context.Context) (code string, expiresAt int64, err error) {
	if !c.initialized {
		return "", 0, newCoreError(KindNotInitialized, errNotInitialized)
	}
	code, expiresAt, err = c.pairCoord.Share(ctx, c.cfg.WsURL)
	if err != nil {
		return "", 0, newCoreError(KindRateLimited, err)
	}
	return code, expiresAt, nil
}

// PairingConsume adopts the identity deposited under code, reconnecting
// if it differs from the local one (§4.8 pairing.consume()). Receiving a
// pairing code is itself a valid way to (re-)establish an identity, so
// unlike Connect/PairingGenerate this does not require CryptoInit first.
// If a prior Clear also wiped the Device Record, a fresh one is minted
// here too, since pairing only transfers the identity keypair (§4.7), not
// the per-installation Device Record (§3).
func (c *Client) PairingConsume(ctx context.Context, code string) error {
	if err := c.pairCoord.Receive(ctx, code); err != nil {
		return newCoreError(KindValidation, err)
	}
	c.manager.SetIdentity(c.idStore.Identity(), c.idStore.UserID())

	if !c.deviceStore.Initialized() {
		device, err := c.deviceStore.Reseed(c.cfg.DeviceName, identity.DeviceTypeDesktop)
		if err != nil {
			return newCoreError(KindValidation, err)
		}
		c.builder.SetDevice(device)
		c.manager.SetDeviceID(device.ID.String())
	}

	c.initialized = true
	return nil
}

// Close releases the underlying storage handle and any feature adapter
// background goroutines. It does not close the connection; call
// Disconnect first if one is open.
func (c *Client) Close() error {
	c.Messages.Close()
	return c.kv.Close()
}
