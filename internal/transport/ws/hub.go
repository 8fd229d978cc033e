package ws

import (
	"sync"

	"earwatch-server-go/internal/domain/eventbus"
	"earwatch-server-go/internal/platform/logging"
)

// SessionHandler is the per-device session the hub tracks. Run blocks
// until the session ends; Close tears it down from outside.
type SessionHandler interface {
	ID() string
	DeviceID() string
	BackendName() string
	Run()
	Close()
}

// Hub keeps at most one live session per device. Registering a session
// for a device that already has one closes the old session first.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]SessionHandler
	logger   *logging.Logger
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]SessionHandler),
		logger:   logger,
	}
}

// Register installs h as the device's current session, superseding any
// previous one. The superseded session is fully closed before the new
// session becomes visible, so its audio can no longer reach a backend.
func (h *Hub) Register(handler SessionHandler) {
	deviceID := handler.DeviceID()

	h.mu.Lock()
	old := h.sessions[deviceID]
	if old != nil {
		h.logger.InfoTag("WebSocket", "device %s reconnected, superseding session %s", deviceID, old.ID())
		old.Close()
	}
	h.sessions[deviceID] = handler
	h.mu.Unlock()

	if old != nil {
		eventbus.Publish(eventbus.EventSessionSuperseded, eventbus.SessionEventData{
			SessionID: old.ID(),
			DeviceID:  deviceID,
			Backend:   old.BackendName(),
		})
	}
	eventbus.Publish(eventbus.EventSessionOpened, eventbus.SessionEventData{
		SessionID: handler.ID(),
		DeviceID:  deviceID,
		Backend:   handler.BackendName(),
	})
}

// Unregister removes handler if it is still the device's current
// session. A session superseded by a newer one leaves the newer entry
// untouched.
func (h *Hub) Unregister(handler SessionHandler) {
	deviceID := handler.DeviceID()

	h.mu.Lock()
	current, ok := h.sessions[deviceID]
	if ok && current.ID() == handler.ID() {
		delete(h.sessions, deviceID)
	} else {
		ok = false
	}
	h.mu.Unlock()

	if ok {
		eventbus.Publish(eventbus.EventSessionClosed, eventbus.SessionEventData{
			SessionID: handler.ID(),
			DeviceID:  deviceID,
			Backend:   handler.BackendName(),
		})
	}
}

// Get returns the device's current session, or nil.
func (h *Hub) Get(deviceID string) SessionHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[deviceID]
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Devices lists the device ids with a live session.
func (h *Hub) Devices() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		out = append(out, id)
	}
	return out
}

// CloseAll shuts every live session down. Used on server shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	handlers := make([]SessionHandler, 0, len(h.sessions))
	for _, handler := range h.sessions {
		handlers = append(handlers, handler)
	}
	h.sessions = make(map[string]SessionHandler)
	h.mu.Unlock()

	for _, handler := range handlers {
		handler.Close()
	}
}
