// Package buffered implements the windowed transcription backend: audio
// frames accumulate in memory and a fixed-interval timer flushes the window
// as one blocking provider call wrapped in a minimal WAV container.
package buffered

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"earwatch-server-go/internal/domain/asr"
	platformconfig "earwatch-server-go/internal/platform/config"
	"earwatch-server-go/internal/platform/logging"
)

// DefaultFlushInterval is used when the configuration omits one.
const DefaultFlushInterval = 3 * time.Second

func init() {
	asr.Register("buffered", func(cfg *platformconfig.ASRConfig, sessionID, deviceID string, logger *logging.Logger) (asr.Provider, error) {
		transcriber, err := NewWhisperTranscriber(cfg.Buffered)
		if err != nil {
			return nil, err
		}
		return NewProvider(cfg.Buffered, transcriber, sessionID, deviceID, logger)
	})
}

// Transcriber performs one blocking transcription call per flush window.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (text string, confidence float64, err error)
}

var _ asr.Provider = (*Provider)(nil)

// Provider accumulates frames and flushes them on a timer. At most one
// flush is in flight per provider; a timer tick arriving while a flush is
// still outstanding is skipped so window order is preserved.
type Provider struct {
	*asr.BaseProvider

	interval    time.Duration
	transcriber Transcriber

	mu          sync.Mutex
	accumulator bytes.Buffer

	started       atomic.Bool
	stopped       atomic.Bool
	flushInFlight atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewProvider builds an unstarted buffered provider around the given
// transcriber.
func NewProvider(cfg platformconfig.BufferedConfig, transcriber Transcriber, sessionID, deviceID string, logger *logging.Logger) (*Provider, error) {
	if transcriber == nil {
		return nil, fmt.Errorf("buffered backend requires a transcriber")
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Provider{
		BaseProvider: asr.NewBaseProvider("buffered", sessionID, deviceID, logger),
		interval:     interval,
		transcriber:  transcriber,
	}, nil
}

// Start launches the flush timer. A stopped provider never restarts:
// Start after Stop is rejected so a torn-down session cannot bring its
// timer back.
func (p *Provider) Start(ctx context.Context) error {
	if p.stopped.Load() {
		return fmt.Errorf("buffered backend stopped, start rejected")
	}
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go p.flushLoop()
	return nil
}

// PushAudio appends one frame to the current accumulator. The append never
// waits on an in-flight transcription call.
func (p *Provider) PushAudio(frame []byte) error {
	if !p.started.Load() {
		return fmt.Errorf("buffered backend not started, frame rejected")
	}
	if p.stopped.Load() {
		return fmt.Errorf("buffered backend stopped, frame rejected")
	}

	p.mu.Lock()
	p.accumulator.Write(frame)
	p.mu.Unlock()
	return nil
}

func (p *Provider) flushLoop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Skip the tick entirely while a previous flush is outstanding;
			// two flushes for one device must never run concurrently.
			if !p.flushInFlight.CompareAndSwap(false, true) {
				continue
			}
			go p.flush()
		case <-p.ctx.Done():
			return
		}
	}
}

// flush swaps the accumulator for an empty one and issues exactly one
// blocking transcription call against the swapped-out bytes.
func (p *Provider) flush() {
	defer p.flushInFlight.Store(false)

	p.mu.Lock()
	if p.accumulator.Len() == 0 {
		p.mu.Unlock()
		return
	}
	samples := make([]byte, p.accumulator.Len())
	copy(samples, p.accumulator.Bytes())
	p.accumulator.Reset()
	p.mu.Unlock()

	text, confidence, err := p.transcriber.Transcribe(p.ctx, asr.WrapPCM(samples))
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		// A failed window is not fatal; the next window may succeed.
		p.EmitError(fmt.Errorf("flush window transcription: %w", err), false)
		return
	}

	p.EmitTranscript(asr.TranscriptEvent{
		Text:       text,
		Confidence: confidence,
		IsFinal:    true,
	})
}

// Stop cancels the flush timer. Bytes accumulated but not yet flushed are
// discarded; the unflushed tail of a session is accepted data loss, not a
// bug. In-flight provider calls are abandoned rather than awaited.
func (p *Provider) Stop() error {
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	p.accumulator.Reset()
	p.mu.Unlock()
	return nil
}
