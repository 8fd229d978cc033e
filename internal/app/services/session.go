package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"earwatch-server-go/internal/domain/asr"
	"earwatch-server-go/internal/domain/eventbus"
	"earwatch-server-go/internal/domain/mailbox"
	"earwatch-server-go/internal/domain/match"
	"earwatch-server-go/internal/platform/logging"
)

// State tracks the session lifecycle. Audio is only forwarded to the
// transcription backend while the session is active.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// FrameWriter is the connection surface the session needs. Implemented
// by *ws.Connection; tests substitute their own.
type FrameWriter interface {
	WriteJSON(v any) error
	ReadMessage() (int, []byte, error)
	Close() error
	IsClosed() bool
}

// deviceMessage is the only text frame devices send: an informational
// identity announcement.
type deviceMessage struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
}

// alarmCommand is pushed to the device when a trigger word is detected.
type alarmCommand struct {
	Command        string   `json:"command"`
	Transcription  string   `json:"transcription"`
	Confidence     float64  `json:"confidence"`
	TriggeredWords []string `json:"triggered_words"`
}

// transcriptNotice is the best-effort interim frame for non-triggering
// transcripts.
type transcriptNotice struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// SessionConfig wires a device session's collaborators.
type SessionConfig struct {
	SessionID string
	DeviceID  string
	Conn      FrameWriter
	Provider  asr.Provider
	Detector  *match.Detector
	Mailbox   *mailbox.Mailbox
	Logger    *logging.Logger
}

// Session owns one device connection: it pumps inbound audio into the
// transcription backend and turns transcript events into trigger
// detections, mailbox results, and device push frames.
type Session struct {
	sessionID string
	deviceID  string
	conn      FrameWriter
	provider  asr.Provider
	detector  *match.Detector
	mailbox   *mailbox.Mailbox
	logger    *logging.Logger

	state     atomic.Int32
	events    chan asr.TranscriptEvent
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		sessionID: cfg.SessionID,
		deviceID:  cfg.DeviceID,
		conn:      cfg.Conn,
		provider:  cfg.Provider,
		detector:  cfg.Detector,
		mailbox:   cfg.Mailbox,
		logger:    cfg.Logger,
		events:    make(chan asr.TranscriptEvent, 16),
		done:      make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) ID() string          { return s.sessionID }
func (s *Session) DeviceID() string    { return s.deviceID }
func (s *Session) BackendName() string { return s.provider.Name() }
func (s *Session) CurrentState() State { return State(s.state.Load()) }

// Run drives the session until the connection drops or Close is
// called. It blocks; the transport runs it on its own goroutine.
func (s *Session) Run() {
	s.provider.SetListener(s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.provider.Start(ctx); err != nil {
		s.logger.ErrorTag("Session", "backend start failed for %s: %v", s.deviceID, err)
		s.Close()
		return
	}

	// Close may have won between registration and this point. Closed is
	// terminal: never promote over it, and put the backend back down if
	// the race let it start.
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		s.provider.Stop()
		return
	}
	s.logger.InfoTag("Session", "session %s active for device %s on %s", s.sessionID, s.deviceID, s.provider.Name())

	go s.processEvents()

	s.readLoop()
	s.Close()
}

func (s *Session) readLoop() {
	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if s.CurrentState() == StateActive {
				s.logger.InfoTag("Session", "device %s disconnected: %v", s.deviceID, err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.handleAudio(payload)
		case websocket.TextMessage:
			s.handleText(payload)
		}
	}
}

func (s *Session) handleAudio(frame []byte) {
	if s.CurrentState() != StateActive {
		return
	}
	if err := s.provider.PushAudio(frame); err != nil {
		s.logger.WarnTag("Session", "audio push failed for %s: %v", s.deviceID, err)
	}
}

func (s *Session) handleText(payload []byte) {
	var msg deviceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.WarnTag("Session", "malformed text frame from %s: %v", s.deviceID, err)
		return
	}
	if msg.Type == "device_id" && msg.DeviceID != "" && msg.DeviceID != s.deviceID {
		s.logger.WarnTag("Session", "device %s announced mismatched id %s", s.deviceID, msg.DeviceID)
	}
}

// OnTranscript implements asr.EventListener. Events are queued to a
// single goroutine so detections for one session never interleave.
func (s *Session) OnTranscript(ev asr.TranscriptEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// OnBackendError implements asr.EventListener. Terminal errors tear the
// session down; transient ones are logged and the session keeps going.
func (s *Session) OnBackendError(err error, terminal bool) {
	if terminal {
		s.logger.ErrorTag("Session", "backend failed for %s, closing session: %v", s.deviceID, err)
		go s.Close()
		return
	}
	s.logger.WarnTag("Session", "backend error for %s: %v", s.deviceID, err)
}

func (s *Session) processEvents() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.handleTranscript(ev)
		}
	}
}

func (s *Session) handleTranscript(ev asr.TranscriptEvent) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	matches := s.detector.Detect(text)
	if len(matches) == 0 {
		s.notifyTranscript(ev)
		return
	}

	phrases := match.Phrases(matches)
	s.logger.InfoTag("Detect", "device %s triggered on %v: %q", s.deviceID, phrases, text)

	s.mailbox.Set(s.deviceID, mailbox.PendingResult{
		DeviceID:       s.deviceID,
		Transcription:  ev.Text,
		Confidence:     ev.Confidence,
		Triggered:      true,
		TriggeredWords: phrases,
		Timestamp:      time.Now(),
	})

	eventbus.Publish(eventbus.EventTriggerFired, eventbus.TriggerEventData{
		DeviceID:       s.deviceID,
		Transcription:  ev.Text,
		Confidence:     ev.Confidence,
		TriggeredWords: phrases,
		Timestamp:      time.Now(),
	})

	if !s.conn.IsClosed() {
		cmd := alarmCommand{
			Command:        "ALARM",
			Transcription:  ev.Text,
			Confidence:     ev.Confidence,
			TriggeredWords: phrases,
		}
		if err := s.conn.WriteJSON(cmd); err != nil {
			s.logger.WarnTag("Session", "alarm push to %s failed: %v", s.deviceID, err)
		}
	}
}

// notifyTranscript sends the interim frame. Best effort: a closed
// connection just drops it.
func (s *Session) notifyTranscript(ev asr.TranscriptEvent) {
	if s.conn.IsClosed() {
		return
	}
	notice := transcriptNotice{
		Type:       "transcription",
		Text:       ev.Text,
		Confidence: ev.Confidence,
	}
	if err := s.conn.WriteJSON(notice); err != nil {
		s.logger.DebugTag("Session", "interim push to %s dropped: %v", s.deviceID, err)
	}
}

// Close stops the backend and the connection. Idempotent; safe from
// any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.done)

		if err := s.provider.Stop(); err != nil {
			s.logger.WarnTag("Session", "backend stop for %s: %v", s.deviceID, err)
		}
		s.conn.Close()

		s.state.Store(int32(StateClosed))
		s.logger.InfoTag("Session", "session %s closed for device %s", s.sessionID, s.deviceID)
	})
}
