package eventbus

import "time"

const (
	// Session lifecycle events.
	EventSessionOpened     = "session:opened"
	EventSessionSuperseded = "session:superseded"
	EventSessionClosed     = "session:closed"

	// Detection events.
	EventTriggerFired = "trigger:fired"

	// Transcription backend events.
	EventProviderError = "provider:error"
)

type SessionEventData struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	Backend   string `json:"backend,omitempty"`
}

type TriggerEventData struct {
	DeviceID       string    `json:"device_id"`
	Transcription  string    `json:"transcription"`
	Confidence     float64   `json:"confidence"`
	TriggeredWords []string  `json:"triggered_words"`
	Timestamp      time.Time `json:"timestamp"`
}

type ProviderErrorData struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	Backend   string `json:"backend"`
	Terminal  bool   `json:"terminal"`
	Error     string `json:"error"`
}
