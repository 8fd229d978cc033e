// Package asr defines the transcription backend contract shared by every
// device session. Two variants exist behind the same interface: a streaming
// backend holding one persistent provider channel per session, and a
// buffered backend issuing one blocking call per flush window. The variant
// is chosen per session at creation and never renegotiated.
package asr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"earwatch-server-go/internal/domain/eventbus"
	platformconfig "earwatch-server-go/internal/platform/config"
	"earwatch-server-go/internal/platform/logging"
)

// TranscriptEvent is the normalized output of both backend variants. Text
// may be empty; consumers must ignore empty or whitespace-only events.
type TranscriptEvent struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
}

// Blank reports whether the event carries no matchable text.
func (ev TranscriptEvent) Blank() bool {
	return strings.TrimSpace(ev.Text) == ""
}

// EventListener receives a provider's asynchronous output. Callbacks may
// fire concurrently with PushAudio.
type EventListener interface {
	// OnTranscript delivers one transcript event, in provider emission order.
	OnTranscript(ev TranscriptEvent)

	// OnBackendError reports a provider failure. Terminal failures mean the
	// provider channel is unrecoverably closed and the owning session should
	// tear down; non-terminal failures are logged and the session continues.
	OnBackendError(err error, terminal bool)
}

// Provider is the capability contract of a transcription backend instance.
// One instance serves exactly one device session.
type Provider interface {
	// Start opens the backend (external channel or flush timer). PushAudio
	// before a successful Start is rejected with an error.
	Start(ctx context.Context) error

	// PushAudio hands one opaque audio frame to the backend. Frames are
	// processed in call order; the call never blocks on in-flight
	// transcription work.
	PushAudio(frame []byte) error

	// SetListener registers the event sink. Must be called before Start.
	SetListener(listener EventListener)

	// Stop tears the backend down without waiting for in-flight provider
	// calls. Safe to call more than once.
	Stop() error

	// Name identifies the variant ("streaming" or "buffered").
	Name() string
}

// Factory builds a provider instance for one session.
type Factory func(cfg *platformconfig.ASRConfig, sessionID, deviceID string, logger *logging.Logger) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register installs a provider factory under a variant name. Variant
// packages call this from init.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Create instantiates the named backend variant.
func Create(name string, cfg *platformconfig.ASRConfig, sessionID, deviceID string, logger *logging.Logger) (Provider, error) {
	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown asr backend: %s", name)
	}

	provider, err := factory(cfg, sessionID, deviceID, logger)
	if err != nil {
		return nil, fmt.Errorf("create asr backend %s: %w", name, err)
	}
	return provider, nil
}

// BaseProvider carries the listener and identity plumbing shared by both
// variants.
type BaseProvider struct {
	mu        sync.RWMutex
	listener  EventListener
	name      string
	sessionID string
	deviceID  string
	logger    *logging.Logger
}

// NewBaseProvider wires the shared fields.
func NewBaseProvider(name, sessionID, deviceID string, logger *logging.Logger) *BaseProvider {
	return &BaseProvider{
		name:      name,
		sessionID: sessionID,
		deviceID:  deviceID,
		logger:    logger,
	}
}

func (p *BaseProvider) SetListener(listener EventListener) {
	p.mu.Lock()
	p.listener = listener
	p.mu.Unlock()
}

func (p *BaseProvider) Name() string      { return p.name }
func (p *BaseProvider) SessionID() string { return p.sessionID }
func (p *BaseProvider) DeviceID() string  { return p.deviceID }

func (p *BaseProvider) Logger() *logging.Logger { return p.logger }

// EmitTranscript forwards one event to the registered listener.
func (p *BaseProvider) EmitTranscript(ev TranscriptEvent) {
	p.mu.RLock()
	listener := p.listener
	p.mu.RUnlock()
	if listener != nil {
		listener.OnTranscript(ev)
	}
}

// EmitError publishes a provider failure on the event bus and forwards it to
// the listener.
func (p *BaseProvider) EmitError(err error, terminal bool) {
	eventbus.Publish(eventbus.EventProviderError, eventbus.ProviderErrorData{
		SessionID: p.sessionID,
		DeviceID:  p.deviceID,
		Backend:   p.name,
		Terminal:  terminal,
		Error:     err.Error(),
	})

	p.mu.RLock()
	listener := p.listener
	p.mu.RUnlock()
	if listener != nil {
		listener.OnBackendError(err, terminal)
	}
}
