package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"earwatch-server-go/internal/domain/asr"
	platformconfig "earwatch-server-go/internal/platform/config"
)

type captureListener struct {
	mu        sync.Mutex
	events    []asr.TranscriptEvent
	errors    []error
	terminals []bool
	eventCh   chan asr.TranscriptEvent
	errorCh   chan error
}

func newCaptureListener() *captureListener {
	return &captureListener{
		eventCh: make(chan asr.TranscriptEvent, 16),
		errorCh: make(chan error, 16),
	}
}

func (l *captureListener) OnTranscript(ev asr.TranscriptEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	l.eventCh <- ev
}

func (l *captureListener) OnBackendError(err error, terminal bool) {
	l.mu.Lock()
	l.errors = append(l.errors, err)
	l.terminals = append(l.terminals, terminal)
	l.mu.Unlock()
	l.errorCh <- err
}

// fakeProvider runs a websocket endpoint that records received frames and
// answers with one transcript event once enough frames arrived.
type fakeProvider struct {
	upgrader    websocket.Upgrader
	framesAfter int

	mu       sync.Mutex
	start    startEnvelope
	frames   [][]byte
	gotStart chan struct{}
	dropConn bool
}

func (f *fakeProvider) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	msgType, payload, err := conn.ReadMessage()
	if err != nil || msgType != websocket.TextMessage {
		return
	}
	f.mu.Lock()
	_ = json.Unmarshal(payload, &f.start)
	f.mu.Unlock()
	close(f.gotStart)

	if f.dropConn {
		return
	}

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		f.mu.Lock()
		f.frames = append(f.frames, append([]byte(nil), payload...))
		count := len(f.frames)
		var joined []string
		for _, fr := range f.frames {
			joined = append(joined, string(fr))
		}
		f.mu.Unlock()

		if count == f.framesAfter {
			resp, _ := json.Marshal(serverEvent{
				Type:       "transcript",
				Text:       strings.Join(joined, " "),
				Confidence: 0.91,
				IsFinal:    true,
			})
			if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
				return
			}
		}
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestProvider(t *testing.T, url string) *Provider {
	t.Helper()
	provider, err := NewProvider(platformconfig.StreamingConfig{URL: url, AppID: "test-app"}, "session-1", "device-1", nil)
	if err != nil {
		t.Fatalf("NewProvider error: %v", err)
	}
	return provider
}

func TestPushBeforeStartIsRejected(t *testing.T) {
	provider := newTestProvider(t, "ws://127.0.0.1:1/never")
	provider.SetListener(newCaptureListener())

	if err := provider.PushAudio([]byte("frame")); err == nil {
		t.Fatalf("expected explicit rejection of frames pushed before start")
	}
}

func TestStartAfterStopIsRejected(t *testing.T) {
	provider := newTestProvider(t, "ws://127.0.0.1:1/never")
	provider.SetListener(newCaptureListener())

	if err := provider.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := provider.Start(context.Background()); err == nil {
		t.Fatalf("expected start after stop to be rejected")
	}
}

func TestStartFailureSurfaces(t *testing.T) {
	provider := newTestProvider(t, "ws://127.0.0.1:1/unreachable")
	provider.SetListener(newCaptureListener())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := provider.Start(ctx); err == nil {
		t.Fatalf("expected dial failure")
	}
}

func TestFramesForwardedInOrder(t *testing.T) {
	fake := &fakeProvider{framesAfter: 3, gotStart: make(chan struct{})}
	server := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer server.Close()

	provider := newTestProvider(t, wsURL(server))
	listener := newCaptureListener()
	provider.SetListener(listener)

	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer provider.Stop()

	select {
	case <-fake.gotStart:
	case <-time.After(2 * time.Second):
		t.Fatalf("provider never received start envelope")
	}

	fake.mu.Lock()
	if fake.start.Format != "pcm" || fake.start.SampleRate != 16000 || fake.start.Channels != 1 {
		t.Fatalf("unexpected start envelope: %+v", fake.start)
	}
	fake.mu.Unlock()

	for _, frame := range []string{"one", "two", "three"} {
		if err := provider.PushAudio([]byte(frame)); err != nil {
			t.Fatalf("PushAudio(%s) error: %v", frame, err)
		}
	}

	select {
	case ev := <-listener.eventCh:
		if ev.Text != "one two three" {
			t.Fatalf("frames arrived out of order: %q", ev.Text)
		}
		if !ev.IsFinal || ev.Confidence != 0.91 {
			t.Fatalf("event fields not forwarded verbatim: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no transcript event received")
	}
}

func TestProviderDisconnectIsTerminal(t *testing.T) {
	fake := &fakeProvider{framesAfter: 1, gotStart: make(chan struct{}), dropConn: true}
	server := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer server.Close()

	provider := newTestProvider(t, wsURL(server))
	listener := newCaptureListener()
	provider.SetListener(listener)

	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer provider.Stop()

	select {
	case <-listener.errorCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected terminal error after provider disconnect")
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.terminals) == 0 || !listener.terminals[0] {
		t.Fatalf("disconnect should be reported as terminal")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	fake := &fakeProvider{framesAfter: 99, gotStart: make(chan struct{})}
	server := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer server.Close()

	provider := newTestProvider(t, wsURL(server))
	provider.SetListener(newCaptureListener())
	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	if err := provider.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := provider.Stop(); err != nil {
		t.Fatalf("second Stop error: %v", err)
	}
	if err := provider.PushAudio([]byte("late")); err == nil {
		t.Fatalf("frames after stop must be rejected")
	}
}
