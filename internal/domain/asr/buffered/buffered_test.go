package buffered

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"earwatch-server-go/internal/domain/asr"
	platformconfig "earwatch-server-go/internal/platform/config"
)

type fakeTranscriber struct {
	mu      sync.Mutex
	calls   atomic.Int64
	windows [][]byte
	delay   time.Duration
	err     error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wav []byte) (string, float64, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.windows = append(f.windows, append([]byte(nil), wav...))
	n := len(f.windows)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
	if f.err != nil {
		return "", 0, f.err
	}
	return fmt.Sprintf("window-%d", n), 0.8, nil
}

type recordingListener struct {
	mu     sync.Mutex
	events []asr.TranscriptEvent
	errors []error
}

func (l *recordingListener) OnTranscript(ev asr.TranscriptEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *recordingListener) OnBackendError(err error, _ bool) {
	l.mu.Lock()
	l.errors = append(l.errors, err)
	l.mu.Unlock()
}

func (l *recordingListener) snapshot() []asr.TranscriptEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]asr.TranscriptEvent(nil), l.events...)
}

func newTestProvider(t *testing.T, transcriber Transcriber, interval time.Duration) (*Provider, *recordingListener) {
	t.Helper()
	provider, err := NewProvider(platformconfig.BufferedConfig{FlushInterval: interval}, transcriber, "session-1", "device-1", nil)
	if err != nil {
		t.Fatalf("NewProvider error: %v", err)
	}
	listener := &recordingListener{}
	provider.SetListener(listener)
	return provider, listener
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestPushBeforeStartIsRejected(t *testing.T) {
	provider, _ := newTestProvider(t, &fakeTranscriber{}, time.Hour)
	if err := provider.PushAudio([]byte("frame")); err == nil {
		t.Fatalf("expected rejection before start")
	}
}

func TestStartAfterStopIsRejected(t *testing.T) {
	fake := &fakeTranscriber{}
	provider, _ := newTestProvider(t, fake, 10*time.Millisecond)

	if err := provider.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := provider.Start(context.Background()); err == nil {
		t.Fatalf("expected start after stop to be rejected")
	}

	// No flush timer must come up for the dead provider.
	provider.PushAudio([]byte("late"))
	time.Sleep(50 * time.Millisecond)
	if fake.calls.Load() != 0 {
		t.Fatalf("flush ran %d times on a stopped provider", fake.calls.Load())
	}
}

func TestEmptyWindowSkipsProviderCall(t *testing.T) {
	fake := &fakeTranscriber{}
	provider, listener := newTestProvider(t, fake, 15*time.Millisecond)

	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer provider.Stop()

	time.Sleep(80 * time.Millisecond)
	if got := fake.calls.Load(); got != 0 {
		t.Fatalf("empty accumulator must not be flushed, got %d calls", got)
	}
	if events := listener.snapshot(); len(events) != 0 {
		t.Fatalf("no events expected for empty windows, got %v", events)
	}
}

func TestFlushWrapsAccumulatedBytesInWAV(t *testing.T) {
	fake := &fakeTranscriber{}
	provider, listener := newTestProvider(t, fake, 20*time.Millisecond)

	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer provider.Stop()

	if err := provider.PushAudio([]byte{1, 2}); err != nil {
		t.Fatalf("PushAudio error: %v", err)
	}
	if err := provider.PushAudio([]byte{3, 4}); err != nil {
		t.Fatalf("PushAudio error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return fake.calls.Load() >= 1 })
	waitFor(t, 2*time.Second, func() bool { return len(listener.snapshot()) >= 1 })

	fake.mu.Lock()
	window := fake.windows[0]
	fake.mu.Unlock()

	if string(window[0:4]) != "RIFF" {
		t.Fatalf("flush payload missing WAV header")
	}
	if got := binary.LittleEndian.Uint32(window[40:44]); got != 4 {
		t.Fatalf("data size = %d, want 4", got)
	}
	if window[44] != 1 || window[45] != 2 || window[46] != 3 || window[47] != 4 {
		t.Fatalf("frames reordered or corrupted: %v", window[44:])
	}

	ev := listener.snapshot()[0]
	if ev.Text != "window-1" || !ev.IsFinal {
		t.Fatalf("unexpected transcript event: %+v", ev)
	}
}

func TestSlowFlushSkipsTicksAndKeepsOrder(t *testing.T) {
	fake := &fakeTranscriber{delay: 80 * time.Millisecond}
	provider, listener := newTestProvider(t, fake, 15*time.Millisecond)

	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer provider.Stop()

	if err := provider.PushAudio([]byte("first")); err != nil {
		t.Fatalf("PushAudio error: %v", err)
	}

	// While the first flush blocks, new audio keeps accumulating and no
	// second flush starts.
	time.Sleep(40 * time.Millisecond)
	if err := provider.PushAudio([]byte("second")); err != nil {
		t.Fatalf("PushAudio during flush error: %v", err)
	}
	if got := fake.calls.Load(); got != 1 {
		t.Fatalf("expected a single in-flight flush, got %d", got)
	}

	waitFor(t, 2*time.Second, func() bool { return len(listener.snapshot()) >= 2 })

	events := listener.snapshot()
	if events[0].Text != "window-1" || events[1].Text != "window-2" {
		t.Fatalf("windows delivered out of order: %v", events)
	}
}

func TestFlushErrorIsNonFatal(t *testing.T) {
	fake := &fakeTranscriber{err: fmt.Errorf("provider down")}
	provider, listener := newTestProvider(t, fake, 15*time.Millisecond)

	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer provider.Stop()

	if err := provider.PushAudio([]byte("audio")); err != nil {
		t.Fatalf("PushAudio error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		listener.mu.Lock()
		defer listener.mu.Unlock()
		return len(listener.errors) >= 1
	})

	// The session keeps accepting audio after a failed window.
	if err := provider.PushAudio([]byte("more audio")); err != nil {
		t.Fatalf("PushAudio after flush failure: %v", err)
	}
}

func TestStopDiscardsUnflushedTail(t *testing.T) {
	fake := &fakeTranscriber{}
	provider, _ := newTestProvider(t, fake, time.Hour)

	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := provider.PushAudio([]byte("tail bytes")); err != nil {
		t.Fatalf("PushAudio error: %v", err)
	}
	if err := provider.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if got := fake.calls.Load(); got != 0 {
		t.Fatalf("stop must not flush the tail, got %d calls", got)
	}
	if err := provider.PushAudio([]byte("late")); err == nil {
		t.Fatalf("frames after stop must be rejected")
	}
}
