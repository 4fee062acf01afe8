// Package connection implements the Connection Manager (§4.2): owns the
// single transport, drives the Handshake Engine, multiplexes inbound
// frames, buffers outbound frames while not authenticated, and reconnects
// with backoff, rotation, and pre-expiry handling.
package connection

import (
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pocketbridge/sync-core/internal/crypto"
	"github.com/pocketbridge/sync-core/internal/handshake"
	"github.com/pocketbridge/sync-core/internal/wire"
	"github.com/pocketbridge/sync-core/transport/wsstream"
)

// Transport is the duplex frame surface a Manager drives. The production
// implementation is transport/wsstream.Conn.
type Transport interface {
	WriteFrame(v any) error
	ReadFrame(v any) error
	Close(code int, reason string) error
	SetReadDeadline(t time.Time) error
}

// Dialer opens a fresh Transport to url (§6: "Target endpoint for the
// event channel").
type Dialer func(url string) (Transport, error)

// Handler receives events dispatched by the Manager's read loop; the
// Sync Engine is the production implementation (§4.5).
type Handler interface {
	OnSessionEstablished(result handshake.Result)
	OnEvent(ev wire.Event)
	OnAck(ack wire.Ack)
	OnReplayResponse(resp wire.ReplayResponse)
	OnSessionExpiringSoon(sig wire.SessionExpiringSoon)
	OnFullResyncRequired(sig wire.FullResyncRequired)
}

const (
	// HandshakeTimeout is the default open-to-session_established budget
	// (§4.1 recommends 10s); SetHandshakeTimeout overrides it per §6
	// `handshake_timeout_ms`.
	HandshakeTimeout = 10 * time.Second
	// closeCodeNormal and closeCodeSessionRotation are the two
	// recognized control-frame close codes (§6).
	closeCodeNormal           = 1000
	closeCodeSessionRotation  = 1001
	defaultPendingBufferLimit = 1000

	// keepaliveInterval and maxMissedPongs implement SPEC_FULL.md §C's
	// client-initiated keepalive: a ping every 20s, 3 consecutive misses
	// trigger a Transport error and reconnect.
	keepaliveInterval = 20 * time.Second
	maxMissedPongs    = 3
)

var ErrDisconnected = errors.New("connection: not connected")
var ErrKeepaliveTimeout = errors.New("connection: keepalive timeout (missed pongs)")

// Manager owns exactly one transport at a time (§4.2).
type Manager struct {
	wsURL    string
	identity *crypto.Identity
	userID   string
	deviceID string
	dialer   Dialer
	handler  Handler

	hub *hub

	mu          sync.Mutex
	transport   Transport
	sessionKey  []byte
	established bool
	pending     []wire.Frame
	pendingMax  int

	backoff          *Backoff
	handshakeTimeout time.Duration

	missedPongs atomic.Int32

	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	rotateNow chan struct{}
}

// NewManager constructs a Manager. dialer is injected so tests can
// substitute an in-process fake transport for a real websocket.
func NewManager(wsURL string, identity *crypto.Identity, userID, deviceID string, dialer Dialer, handler Handler) *Manager {
	return &Manager{
		wsURL:            wsURL,
		identity:         identity,
		userID:           userID,
		deviceID:         deviceID,
		dialer:           dialer,
		handler:          handler,
		hub:              newHub(),
		pendingMax:       defaultPendingBufferLimit,
		backoff:          DefaultBackoff(),
		handshakeTimeout: HandshakeTimeout,
		rotateNow:        make(chan struct{}, 1),
	}
}

// SetHandshakeTimeout overrides the open-to-session_established deadline
// (§6 `handshake_timeout_ms`); zero or negative leaves the default (§4.1
// recommended 10s) in place. Not safe to call concurrently with Connect.
func (m *Manager) SetHandshakeTimeout(d time.Duration) {
	if d > 0 {
		m.handshakeTimeout = d
	}
}

// SetBackoff overrides the reconnect backoff parameters (§6
// `reconnect_base_ms`/`reconnect_max_ms`); zero or negative elements
// leave the corresponding default (§4.2: base=3s, max=30s) in place. Not
// safe to call concurrently with Connect.
func (m *Manager) SetBackoff(base, max time.Duration) {
	if base <= 0 {
		base = m.backoff.Base
	}
	if max <= 0 {
		max = m.backoff.Max
	}
	m.backoff = &Backoff{Base: base, Max: max, Min: m.backoff.Min}
}

// SetHandler binds the frame handler. It exists because the Sync Engine
// and the Manager are mutually dependent (the engine needs the Manager
// as its Sender; the Manager needs the engine as its Handler) — callers
// construct the Manager with a nil handler, build the engine around it,
// then call SetHandler before Connect. Not safe to call after Connect.
func (m *Manager) SetHandler(handler Handler) {
	m.handler = handler
}

// SubscribeStatus registers a status observer (§4.8).
func (m *Manager) SubscribeStatus(fn StatusHandler) func() { return m.hub.SubscribeStatus(fn) }

// SubscribeError registers an error observer (§4.8).
func (m *Manager) SubscribeError(fn ErrorHandler) func() { return m.hub.SubscribeError(fn) }

// Status returns the current lifecycle state.
func (m *Manager) Status() Status { return m.hub.Status() }

// Connect starts the connect/handshake/reconnect loop if not already
// running.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop()
}

// Disconnect cancels any pending reconnect timer and closes the active
// transport (§5: "Reconnect timers are cancelled by disconnect()").
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	t := m.transport
	m.mu.Unlock()

	if t != nil {
		_ = t.Close(closeCodeNormal, "client disconnect")
	}
	m.wg.Wait()
	m.hub.setStatus(StatusDisconnected)
}

// SetIdentity rebinds the identity keypair and user_id used in the next
// handshake's client_auth (§4.1), used after a pairing Receive adopts a
// different identity (§4.7) or a post-data.clear() re-init (§4.8
// CryptoInit) mints a fresh one.
func (m *Manager) SetIdentity(identity *crypto.Identity, userID string) {
	m.mu.Lock()
	m.identity = identity
	m.userID = userID
	m.mu.Unlock()
}

// SetDeviceID rebinds the device_id used in the next handshake's
// client_auth (§4.1), used when a post-data.clear() re-init (§4.8
// CryptoInit) mints a fresh Device Record in place of the wiped one.
func (m *Manager) SetDeviceID(deviceID string) {
	m.mu.Lock()
	m.deviceID = deviceID
	m.mu.Unlock()
}

// SetWsURL updates the dial target used by the next connect attempt
// (§4.7: pairing Receive "persists the received wsUrl ... and prompt[s]
// the Connection Manager to reconnect"). It does not itself reconnect;
// callers pair it with RequestRotation.
func (m *Manager) SetWsURL(url string) {
	m.mu.Lock()
	m.wsURL = url
	m.mu.Unlock()
}

// RequestRotation schedules an immediate clean reconnect, used by
// pre-expiry rotation (§4.2 session_expiring_soon handling).
func (m *Manager) RequestRotation() {
	select {
	case m.rotateNow <- struct{}{}:
	default:
	}

	// An open session would otherwise keep running until the relay
	// closes it; close it so the loop reconnects right away.
	m.mu.Lock()
	t, established := m.transport, m.established
	m.mu.Unlock()
	if established && t != nil {
		_ = t.Close(closeCodeNormal, "rotation requested")
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		result, err := m.connectOnce()
		if err != nil {
			m.hub.emitError(err)
			m.hub.setStatus(StatusError)
			if !m.sleepBackoff(m.backoff.Next()) {
				return
			}
			continue
		}

		m.backoff.Reset()
		m.hub.setStatus(StatusConnected)
		if m.handler != nil {
			m.handler.OnSessionEstablished(result)
		}

		m.missedPongs.Store(0)
		keepaliveStop := make(chan struct{})
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.keepaliveLoop(keepaliveStop)
		}()

		closeCode, err := m.readLoop()
		close(keepaliveStop)

		m.mu.Lock()
		m.established = false
		m.sessionKey = nil
		m.mu.Unlock()

		if err != nil {
			m.hub.emitError(err)
		}

		select {
		case <-m.stopCh:
			return
		default:
		}

		if closeCode == closeCodeSessionRotation {
			m.hub.setStatus(StatusRotating)
			if !m.sleepBackoff(1 * time.Second) {
				return
			}
			continue
		}

		m.hub.setStatus(StatusDisconnected)
		if !m.sleepBackoff(m.backoff.Next()) {
			return
		}
	}
}

func (m *Manager) sleepBackoff(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-m.rotateNow:
		return true
	case <-m.stopCh:
		return false
	}
}

func (m *Manager) connectOnce() (handshake.Result, error) {
	m.hub.setStatus(StatusConnecting)

	m.mu.Lock()
	wsURL := m.wsURL
	deviceID := m.deviceID
	id := m.identity
	userID := m.userID
	m.mu.Unlock()

	t, err := m.dialer(wsURL)
	if err != nil {
		return handshake.Result{}, err
	}

	m.hub.setStatus(StatusAuthenticating)

	_ = t.SetReadDeadline(timeNow().Add(m.handshakeTimeout))
	engine := handshake.New(id, userID, deviceID, nil)
	result, err := engine.Run(t)
	if err != nil {
		_ = t.Close(closeCodeNormal, "handshake failed")
		return handshake.Result{}, err
	}
	_ = t.SetReadDeadline(time.Time{})

	m.mu.Lock()
	m.transport = t
	m.sessionKey = result.SessionKey
	m.established = true
	m.mu.Unlock()

	m.flushPending()

	return result, nil
}

// readLoop dispatches inbound frames to the Handler until the transport
// closes or errors, returning the observed close code (0 if unknown).
func (m *Manager) readLoop() (closeCode int, err error) {
	for {
		var frame wire.Frame
		m.mu.Lock()
		t := m.transport
		m.mu.Unlock()
		if t == nil {
			return 0, ErrDisconnected
		}

		if err := t.ReadFrame(&frame); err != nil {
			if code, ok := closeCodeOf(err); ok {
				return code, nil
			}
			return 0, err
		}

		m.dispatch(frame)
	}
}

// scheduleRotation arms a timer firing at expires_at - 30s (or
// immediately if already past) that requests a clean reconnect, per
// §4.2's pre-expiry rotation rule.
func (m *Manager) scheduleRotation(sig wire.SessionExpiringSoon) {
	rotateAt := time.UnixMilli(sig.ExpiresAt).Add(-30 * time.Second)
	delay := time.Until(rotateAt)
	if delay < 0 {
		delay = 0
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-time.After(delay):
			m.RequestRotation()
		case <-m.stopCh:
		}
	}()
}

func (m *Manager) dispatch(frame wire.Frame) {
	if m.handler == nil {
		return
	}
	switch frame.Type {
	case wire.TypeEvent:
		var ev wire.Event
		if frame.Decode(&ev) == nil {
			m.handler.OnEvent(ev)
		}
	case wire.TypeAck:
		var ack wire.Ack
		if frame.Decode(&ack) == nil {
			m.handler.OnAck(ack)
		}
	case wire.TypeReplayResponse:
		var resp wire.ReplayResponse
		if frame.Decode(&resp) == nil {
			m.handler.OnReplayResponse(resp)
		}
	case wire.TypeSessionExpiringSoon:
		var sig wire.SessionExpiringSoon
		if frame.Decode(&sig) == nil {
			m.scheduleRotation(sig)
			m.handler.OnSessionExpiringSoon(sig)
		}
	case wire.TypeFullResyncRequired:
		var sig wire.FullResyncRequired
		if frame.Decode(&sig) == nil {
			m.handler.OnFullResyncRequired(sig)
		}
	case wire.TypePing:
		if frame, err := wire.Encode(wire.TypePong, nil); err == nil {
			m.sendOrBuffer(frame)
		}
	case wire.TypePong:
		m.missedPongs.Store(0)
	}
}

// keepaliveLoop sends a client-initiated ping every keepaliveInterval
// (§4.2 "manage keepalive", SPEC_FULL.md §C) and counts consecutive
// misses via missedPongs, which TypePong dispatch resets to zero. Three
// misses in a row close the transport with a Transport error, which
// readLoop observes and the outer loop treats as a disconnect subject to
// the usual backoff/reconnect.
func (m *Manager) keepaliveLoop(stop chan struct{}) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.missedPongs.Add(1) > maxMissedPongs {
				m.hub.emitError(ErrKeepaliveTimeout)
				m.mu.Lock()
				t := m.transport
				m.mu.Unlock()
				if t != nil {
					_ = t.Close(closeCodeNormal, "keepalive timeout")
				}
				return
			}
			frame, err := wire.Encode(wire.TypePing, nil)
			if err == nil {
				m.sendOrBuffer(frame)
			}
		}
	}
}

// Send transmits ev if the session is ESTABLISHED, otherwise buffers it
// (§4.2 outbound discipline). It implements events.Transmitter.
func (m *Manager) Send(ev wire.Event) {
	frame, err := wire.Encode(wire.TypeEvent, ev)
	if err != nil {
		return
	}
	m.sendOrBuffer(frame)
}

// SendControl transmits non-event frames (ack, replay_request) with the
// same open-vs-buffered discipline as data frames, since the only
// control frames sent from an established session are simple acks and
// requests, not the handshake frames the Engine owns directly.
func (m *Manager) SendControl(t wire.FrameType, payload any) error {
	frame, err := wire.Encode(t, payload)
	if err != nil {
		return err
	}
	m.sendOrBuffer(frame)
	return nil
}

func (m *Manager) sendOrBuffer(frame wire.Frame) {
	m.mu.Lock()
	if m.established && m.transport != nil {
		transport := m.transport
		m.mu.Unlock()
		_ = transport.WriteFrame(frame)
		return
	}

	if len(m.pending) >= m.pendingMax {
		m.pending = m.pending[1:]
	}
	m.pending = append(m.pending, frame)
	m.mu.Unlock()
}

func (m *Manager) flushPending() {
	m.mu.Lock()
	toSend := m.pending
	m.pending = nil
	transport := m.transport
	m.mu.Unlock()

	for _, frame := range toSend {
		_ = transport.WriteFrame(frame)
	}
}

func closeCodeOf(err error) (int, bool) {
	return wsstream.CloseCode(err)
}

// timeNow is a seam for deterministic testing of handshake deadlines.
var timeNow = time.Now
