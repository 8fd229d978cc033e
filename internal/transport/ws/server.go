package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"earwatch-server-go/internal/platform/config"
	"earwatch-server-go/internal/platform/logging"
)

// HandlerBuilder creates the session for an accepted connection.
type HandlerBuilder func(conn *Connection, sessionID, deviceID string) (SessionHandler, error)

// VerifyFunc is the auth gate consulted before a connection is upgraded.
type VerifyFunc func(ctx context.Context, deviceID, token string) bool

// Server accepts device websocket connections and hands each one to a
// session handler registered in the hub.
type Server struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	hub      *Hub
	builder  HandlerBuilder
	verify   VerifyFunc
	server   *http.Server
	upgrader *websocket.Upgrader
}

func NewServer(cfg config.WebSocketConfig, hub *Hub, builder HandlerBuilder, verify VerifyFunc, logger *logging.Logger) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		hub:     hub,
		builder: builder,
		verify:  verify,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start serves until ctx is cancelled, then closes every session.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.IP, s.cfg.Port)

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path+"/", s.handleWebSocket)
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.InfoTag("WebSocket", "ws://%s%s", addr, s.cfg.Path)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket server: %w", err)
	}
	return nil
}

// Stop closes the listener and every live session.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	s.logger.InfoTag("WebSocket", "shutting down, closing %d sessions", s.hub.Count())
	s.hub.CloseAll()
	return s.server.Close()
}

// deviceIDFrom extracts the device id from the request path, then
// falls back to the Device-Id header and query parameter.
func (s *Server) deviceIDFrom(r *http.Request) string {
	if rest := strings.TrimPrefix(r.URL.Path, s.cfg.Path); rest != r.URL.Path {
		if id := strings.Trim(rest, "/"); id != "" && !strings.Contains(id, "/") {
			return id
		}
	}
	if id := r.Header.Get("Device-Id"); id != "" {
		return id
	}
	return r.URL.Query().Get("device-id")
}

func tokenFrom(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	deviceID := s.deviceIDFrom(r)
	if deviceID == "" {
		s.logger.WarnTag("WebSocket", "connection without device id from %s", r.RemoteAddr)
		http.Error(w, "device id required", http.StatusBadRequest)
		return
	}

	if s.verify != nil && !s.verify(r.Context(), deviceID, tokenFrom(r)) {
		s.logger.WarnTag("WebSocket", "device %s failed authentication", deviceID)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.ErrorTag("WebSocket", "upgrade failed for %s: %v", deviceID, err)
		return
	}

	sessionID := uuid.NewString()
	wsConn := NewConnection(sessionID, conn)

	handler, err := s.builder(wsConn, sessionID, deviceID)
	if err != nil {
		s.logger.ErrorTag("WebSocket", "session setup failed for %s: %v", deviceID, err)
		wsConn.Close()
		return
	}

	s.hub.Register(handler)
	s.logger.InfoTag("WebSocket", "device %s connected, session %s", deviceID, sessionID)

	go func() {
		stopWatch := s.watchIdle(wsConn, handler, deviceID)
		defer func() {
			stopWatch()
			s.hub.Unregister(handler)
			handler.Close()
		}()
		handler.Run()
	}()
}

// watchIdle reaps connections that have gone silent for longer than the
// configured idle timeout. Devices that die without a close frame would
// otherwise hold their session (and its backend channel) forever.
func (s *Server) watchIdle(conn *Connection, handler SessionHandler, deviceID string) func() {
	timeout := s.cfg.IdleTimeout
	if timeout <= 0 {
		return func() {}
	}

	interval := timeout / 4
	if interval < time.Second {
		interval = timeout
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if conn.IsStale(timeout) {
					s.logger.WarnTag("WebSocket", "device %s silent since %s, reaping session %s",
						deviceID, conn.GetLastActiveTime().Format(time.RFC3339), handler.ID())
					handler.Close()
					return
				}
			}
		}
	}()
	return func() { close(stop) }
}
