package connection

import "sync"

// Status is a Connection Manager lifecycle state (§4.2: "disconnected ->
// connecting -> authenticating -> connected -> {rotating | error |
// disconnected}").
type Status string

const (
	StatusDisconnected   Status = "disconnected"
	StatusConnecting     Status = "connecting"
	StatusAuthenticating Status = "authenticating"
	StatusConnected      Status = "connected"
	StatusRotating       Status = "rotating"
	StatusError          Status = "error"
)

// StatusHandler observes status transitions; registered handlers are
// invoked once immediately with the current status (§4.8).
type StatusHandler func(Status)

// ErrorHandler observes typed handshake/transport failures (§4.8).
type ErrorHandler func(error)

// hub fans out status/error notifications to registered subscribers in
// registration order (§5: "Status handlers and event handlers are invoked
// in registration order; a handler that throws does not prevent
// subsequent handlers from running").
type hub struct {
	mu       sync.Mutex
	status   Status
	statusHs []StatusHandler
	errorHs  []ErrorHandler
}

func newHub() *hub {
	return &hub{status: StatusDisconnected}
}

func (h *hub) SubscribeStatus(fn StatusHandler) (unsubscribe func()) {
	h.mu.Lock()
	h.statusHs = append(h.statusHs, fn)
	current := h.status
	idx := len(h.statusHs) - 1
	h.mu.Unlock()

	fn(current)

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if idx < len(h.statusHs) {
			h.statusHs[idx] = nil
		}
	}
}

func (h *hub) SubscribeError(fn ErrorHandler) (unsubscribe func()) {
	h.mu.Lock()
	h.errorHs = append(h.errorHs, fn)
	idx := len(h.errorHs) - 1
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if idx < len(h.errorHs) {
			h.errorHs[idx] = nil
		}
	}
}

func (h *hub) setStatus(s Status) {
	h.mu.Lock()
	h.status = s
	handlers := append([]StatusHandler(nil), h.statusHs...)
	h.mu.Unlock()

	for _, fn := range handlers {
		if fn == nil {
			continue
		}
		callSafely(func() { fn(s) })
	}
}

func (h *hub) emitError(err error) {
	h.mu.Lock()
	handlers := append([]ErrorHandler(nil), h.errorHs...)
	h.mu.Unlock()

	for _, fn := range handlers {
		if fn == nil {
			continue
		}
		callSafely(func() { fn(err) })
	}
}

func (h *hub) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// callSafely runs fn, recovering a panic so one misbehaving handler never
// unwinds the dispatcher (§5).
func callSafely(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
