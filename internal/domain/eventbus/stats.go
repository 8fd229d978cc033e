package eventbus

import "sync/atomic"

// Stats accumulates counters from bus events for the status endpoint.
type Stats struct {
	sessionsOpened     atomic.Int64
	sessionsSuperseded atomic.Int64
	sessionsClosed     atomic.Int64
	triggersFired      atomic.Int64
	providerErrors     atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	SessionsOpened     int64 `json:"sessions_opened"`
	SessionsSuperseded int64 `json:"sessions_superseded"`
	SessionsClosed     int64 `json:"sessions_closed"`
	TriggersFired      int64 `json:"triggers_fired"`
	ProviderErrors     int64 `json:"provider_errors"`
}

// NewStats subscribes a fresh collector to the shared bus.
func NewStats() (*Stats, error) {
	s := &Stats{}
	if err := Subscribe(EventSessionOpened, s.onSessionOpened); err != nil {
		return nil, err
	}
	if err := Subscribe(EventSessionSuperseded, s.onSessionSuperseded); err != nil {
		return nil, err
	}
	if err := Subscribe(EventSessionClosed, s.onSessionClosed); err != nil {
		return nil, err
	}
	if err := Subscribe(EventTriggerFired, s.onTriggerFired); err != nil {
		return nil, err
	}
	if err := Subscribe(EventProviderError, s.onProviderError); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stats) onSessionOpened(SessionEventData)     { s.sessionsOpened.Add(1) }
func (s *Stats) onSessionSuperseded(SessionEventData) { s.sessionsSuperseded.Add(1) }
func (s *Stats) onSessionClosed(SessionEventData)     { s.sessionsClosed.Add(1) }
func (s *Stats) onTriggerFired(TriggerEventData)      { s.triggersFired.Add(1) }
func (s *Stats) onProviderError(ProviderErrorData)    { s.providerErrors.Add(1) }

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		SessionsOpened:     s.sessionsOpened.Load(),
		SessionsSuperseded: s.sessionsSuperseded.Load(),
		SessionsClosed:     s.sessionsClosed.Load(),
		TriggersFired:      s.triggersFired.Load(),
		ProviderErrors:     s.providerErrors.Load(),
	}
}

// Close detaches the collector from the bus.
func (s *Stats) Close() {
	_ = Unsubscribe(EventSessionOpened, s.onSessionOpened)
	_ = Unsubscribe(EventSessionSuperseded, s.onSessionSuperseded)
	_ = Unsubscribe(EventSessionClosed, s.onSessionClosed)
	_ = Unsubscribe(EventTriggerFired, s.onTriggerFired)
	_ = Unsubscribe(EventProviderError, s.onProviderError)
}
