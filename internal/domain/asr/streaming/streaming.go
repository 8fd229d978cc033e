// Package streaming implements the low-latency transcription backend: one
// persistent bidirectional websocket channel per session against the
// external speech provider. Audio frames are forwarded immediately in
// arrival order with no local buffering; transcript events come back
// asynchronously on a receive loop.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"earwatch-server-go/internal/domain/asr"
	platformconfig "earwatch-server-go/internal/platform/config"
	"earwatch-server-go/internal/platform/logging"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

func init() {
	asr.Register("streaming", func(cfg *platformconfig.ASRConfig, sessionID, deviceID string, logger *logging.Logger) (asr.Provider, error) {
		return NewProvider(cfg.Streaming, sessionID, deviceID, logger)
	})
}

var _ asr.Provider = (*Provider)(nil)

// startEnvelope opens the provider stream and pins the audio format.
type startEnvelope struct {
	Type       string `json:"type"`
	AppID      string `json:"app_id,omitempty"`
	DeviceID   string `json:"device_id"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Bits       int    `json:"bits"`
}

// serverEvent is one provider message on the channel.
type serverEvent struct {
	Type       string  `json:"type"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	IsFinal    bool    `json:"is_final,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// Provider holds one external streaming channel.
type Provider struct {
	*asr.BaseProvider

	cfg platformconfig.StreamingConfig

	connMu  sync.Mutex
	conn    *websocket.Conn
	started atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
}

// NewProvider validates the streaming configuration and builds an unstarted
// provider.
func NewProvider(cfg platformconfig.StreamingConfig, sessionID, deviceID string, logger *logging.Logger) (*Provider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("streaming backend requires a provider url")
	}
	return &Provider{
		BaseProvider: asr.NewBaseProvider("streaming", sessionID, deviceID, logger),
		cfg:          cfg,
		done:         make(chan struct{}),
	}, nil
}

// Start dials the external channel and launches the receive loop. A dial
// failure is returned to the caller; the session decides whether to tear
// down. A stopped provider never restarts: Start after Stop is rejected
// so a torn-down session cannot dial a channel it can no longer close.
func (p *Provider) Start(ctx context.Context) error {
	if p.stopped.Load() {
		return fmt.Errorf("streaming backend stopped, start rejected")
	}
	if p.started.Load() {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{}
	if p.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+p.cfg.AccessToken)
	}

	conn, _, err := dialer.DialContext(ctx, p.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial streaming provider: %w", err)
	}

	envelope := startEnvelope{
		Type:       "start",
		AppID:      p.cfg.AppID,
		DeviceID:   p.DeviceID(),
		Format:     "pcm",
		SampleRate: 16000,
		Channels:   1,
		Bits:       16,
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(envelope); err != nil {
		conn.Close()
		return fmt.Errorf("send start envelope: %w", err)
	}

	p.connMu.Lock()
	p.conn = conn
	p.connMu.Unlock()
	p.started.Store(true)

	go p.receiveLoop(conn)
	return nil
}

// PushAudio forwards one frame to the open channel. Frames pushed before
// Start are rejected explicitly so no audio is ever dropped silently.
func (p *Provider) PushAudio(frame []byte) error {
	if !p.started.Load() {
		return fmt.Errorf("streaming backend not started, frame rejected")
	}
	if p.stopped.Load() {
		return fmt.Errorf("streaming backend stopped, frame rejected")
	}

	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("streaming channel closed, frame rejected")
	}

	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		// A failed write means the channel is gone for good.
		p.EmitError(fmt.Errorf("forward audio frame: %w", err), true)
		return err
	}
	return nil
}

func (p *Provider) receiveLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if p.stopped.Load() {
				return
			}
			p.EmitError(fmt.Errorf("streaming channel read: %w", err), true)
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			if logger := p.Logger(); logger != nil {
				logger.WarnTag("ASR", "session %s: malformed provider event: %v", p.SessionID(), err)
			}
			continue
		}

		switch ev.Type {
		case "transcript":
			p.EmitTranscript(asr.TranscriptEvent{
				Text:       ev.Text,
				Confidence: ev.Confidence,
				IsFinal:    ev.IsFinal,
			})
		case "error":
			// Provider-side recognition errors are not fatal to the channel.
			p.EmitError(fmt.Errorf("provider error: %s", ev.Message), false)
		default:
			if logger := p.Logger(); logger != nil {
				logger.DebugTag("ASR", "session %s: ignoring provider event type %q", p.SessionID(), ev.Type)
			}
		}
	}
}

// Stop closes the external channel. In-flight provider work is abandoned.
func (p *Provider) Stop() error {
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(p.done)

	p.connMu.Lock()
	conn := p.conn
	p.conn = nil
	p.connMu.Unlock()

	if conn == nil {
		return nil
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}
