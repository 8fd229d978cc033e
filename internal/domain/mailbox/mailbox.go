// Package mailbox holds the process-wide pending trigger results consumed by
// the polling and heartbeat endpoints. Each device owns exactly one slot: a
// new trigger overwrites an unconsumed prior result, and reading through
// TakeIfPresent removes the entry atomically so a result is delivered at
// most once. Entries never expire; an unconsumed result lives until taken or
// overwritten.
package mailbox

import (
	"sync"
	"time"
)

// PendingResult is the alarm payload waiting for a device to collect it.
type PendingResult struct {
	DeviceID       string    `json:"device_id"`
	Transcription  string    `json:"transcription"`
	Confidence     float64   `json:"confidence"`
	Triggered      bool      `json:"triggered"`
	TriggeredWords []string  `json:"triggered_words"`
	Timestamp      time.Time `json:"timestamp"`
}

// Mailbox is safe for concurrent use by sessions and HTTP collaborators.
type Mailbox struct {
	mu      sync.Mutex
	pending map[string]PendingResult
}

// New builds an empty mailbox.
func New() *Mailbox {
	return &Mailbox{
		pending: make(map[string]PendingResult),
	}
}

// Set stores the result for a device, unconditionally overwriting any prior
// unconsumed entry (last write wins, no queueing).
func (m *Mailbox) Set(deviceID string, result PendingResult) {
	m.mu.Lock()
	m.pending[deviceID] = result
	m.mu.Unlock()
}

// TakeIfPresent atomically returns and removes the device's pending result.
// The second return reports whether an entry was present.
func (m *Mailbox) TakeIfPresent(deviceID string) (PendingResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, ok := m.pending[deviceID]
	if ok {
		delete(m.pending, deviceID)
	}
	return result, ok
}

// Clear discards any pending entry for the device without delivering it.
func (m *Mailbox) Clear(deviceID string) {
	m.mu.Lock()
	delete(m.pending, deviceID)
	m.mu.Unlock()
}

// Len reports the number of devices with an unconsumed result.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
