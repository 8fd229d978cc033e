package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"earwatch-server-go/internal/platform/config"
)

// recordedSession blocks in Run until closed, like a real session.
type recordedSession struct {
	id       string
	deviceID string
	done     chan struct{}
	closed   atomic.Bool
}

func (r *recordedSession) ID() string          { return r.id }
func (r *recordedSession) DeviceID() string    { return r.deviceID }
func (r *recordedSession) BackendName() string { return "test" }
func (r *recordedSession) Run()                { <-r.done }
func (r *recordedSession) Close() {
	if r.closed.CompareAndSwap(false, true) {
		close(r.done)
	}
}

func newTestServer(t *testing.T, verify VerifyFunc) (*Server, *httptest.Server, *Hub, chan *recordedSession) {
	t.Helper()
	hub := NewHub(testLogger(t))
	created := make(chan *recordedSession, 4)

	builder := func(conn *Connection, sessionID, deviceID string) (SessionHandler, error) {
		s := &recordedSession{id: sessionID, deviceID: deviceID, done: make(chan struct{})}
		created <- s
		return s, nil
	}

	cfg := config.WebSocketConfig{Enabled: true, Path: "/audio"}
	server := NewServer(cfg, hub, builder, verify, testLogger(t))

	mux := http.NewServeMux()
	mux.HandleFunc("/audio/", server.handleWebSocket)
	mux.HandleFunc("/audio", server.handleWebSocket)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return server, ts, hub, created
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestServerAcceptsDeviceFromPath(t *testing.T) {
	_, ts, hub, created := newTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/audio/dev-1"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	select {
	case s := <-created:
		if s.DeviceID() != "dev-1" {
			t.Fatalf("session device = %s, want dev-1", s.DeviceID())
		}
	case <-time.After(time.Second):
		t.Fatal("no session created")
	}

	deadline := time.Now().Add(time.Second)
	for hub.Count() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Count() != 1 {
		t.Fatalf("hub count = %d, want 1", hub.Count())
	}
}

func TestServerRejectsMissingDeviceID(t *testing.T) {
	_, ts, _, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/audio")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServerAuthGateRejectsBeforeUpgrade(t *testing.T) {
	verify := func(_ context.Context, deviceID, token string) bool {
		return token == "good-token"
	}
	_, ts, hub, created := newTestServer(t, verify)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/audio/dev-1"), nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v, want 401", resp)
	}
	if hub.Count() != 0 {
		t.Fatal("rejected connection reached the hub")
	}
	select {
	case <-created:
		t.Fatal("session built for rejected connection")
	default:
	}

	header := http.Header{"Authorization": []string{"Bearer good-token"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/audio/dev-1"), header)
	if err != nil {
		t.Fatalf("dial with token failed: %v", err)
	}
	conn.Close()
}

func TestServerReapsIdleConnections(t *testing.T) {
	hub := NewHub(testLogger(t))
	created := make(chan *recordedSession, 1)

	builder := func(conn *Connection, sessionID, deviceID string) (SessionHandler, error) {
		s := &recordedSession{id: sessionID, deviceID: deviceID, done: make(chan struct{})}
		created <- s
		return s, nil
	}

	cfg := config.WebSocketConfig{Enabled: true, Path: "/audio", IdleTimeout: 80 * time.Millisecond}
	server := NewServer(cfg, hub, builder, nil, testLogger(t))

	mux := http.NewServeMux()
	mux.HandleFunc("/audio/", server.handleWebSocket)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/audio/dev-1"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	s := <-created

	// The device never sends a frame; the sweep must shut the session.
	deadline := time.Now().Add(2 * time.Second)
	for !s.closed.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !s.closed.Load() {
		t.Fatal("idle session not reaped")
	}

	deadline = time.Now().Add(time.Second)
	for hub.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.Count() != 0 {
		t.Fatalf("hub count = %d after reap, want 0", hub.Count())
	}
}

func TestServerSupersedesOnReconnect(t *testing.T) {
	_, ts, hub, created := newTestServer(t, nil)

	first, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/audio/dev-1"), nil)
	if err != nil {
		t.Fatalf("first dial failed: %v", err)
	}
	defer first.Close()
	s1 := <-created

	second, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/audio/dev-1"), nil)
	if err != nil {
		t.Fatalf("second dial failed: %v", err)
	}
	defer second.Close()
	s2 := <-created

	deadline := time.Now().Add(time.Second)
	for !s1.closed.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !s1.closed.Load() {
		t.Fatal("first session not closed on reconnect")
	}
	if s2.closed.Load() {
		t.Fatal("second session closed unexpectedly")
	}
	if got := hub.Get("dev-1"); got == nil || got.ID() != s2.ID() {
		t.Fatalf("current session = %v, want second", got)
	}
}
