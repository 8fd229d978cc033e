package webapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"earwatch-server-go/internal/domain/auth"
	"earwatch-server-go/internal/domain/eventbus"
	"earwatch-server-go/internal/domain/mailbox"
	"earwatch-server-go/internal/domain/match"
	"earwatch-server-go/internal/platform/logging"
	"earwatch-server-go/internal/platform/storage"
	httptransport "earwatch-server-go/internal/transport/http"
	"earwatch-server-go/internal/transport/ws"
)

// Service exposes the collaborator API: result polling, heartbeats,
// trigger-word management and device tokens.
type Service struct {
	mailbox *mailbox.Mailbox
	words   *match.WordList
	db      *storage.DB
	auth    *auth.Manager
	hub     *ws.Hub
	stats   *eventbus.Stats
	logger  *logging.Logger
	started time.Time
}

type ServiceConfig struct {
	Mailbox *mailbox.Mailbox
	Words   *match.WordList
	DB      *storage.DB
	Auth    *auth.Manager
	Hub     *ws.Hub
	Stats   *eventbus.Stats
	Logger  *logging.Logger
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		mailbox: cfg.Mailbox,
		words:   cfg.Words,
		db:      cfg.DB,
		auth:    cfg.Auth,
		hub:     cfg.Hub,
		stats:   cfg.Stats,
		logger:  cfg.Logger,
		started: time.Now(),
	}
}

// Register mounts the routes. Heartbeat goes through the secured group
// when one exists.
func (s *Service) Register(router *httptransport.Router) {
	api := router.API
	api.GET("/results/:deviceId", s.getResult)
	api.POST("/results/:deviceId/clear", s.clearResult)
	api.GET("/trigger-words", s.getTriggerWords)
	api.PUT("/trigger-words", s.putTriggerWords)
	api.POST("/auth/token", s.issueToken)
	api.POST("/auth/revoke", s.revokeToken)
	api.GET("/devices", s.listDevices)
	api.GET("/devices/:deviceId", s.getDevice)
	api.GET("/status", s.status)

	heartbeatGroup := api
	if router.Secured != nil {
		heartbeatGroup = router.Secured
	}
	heartbeatGroup.POST("/heartbeat", s.heartbeat)
}

// resultPayload is what pollers receive. A device with nothing pending
// gets triggered=false and no transcription.
type resultPayload struct {
	DeviceID       string    `json:"device_id"`
	Triggered      bool      `json:"triggered"`
	Transcription  string    `json:"transcription,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
	TriggeredWords []string  `json:"triggered_words,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
}

func resultFrom(deviceID string, res mailbox.PendingResult, ok bool) resultPayload {
	if !ok {
		return resultPayload{DeviceID: deviceID, Triggered: false}
	}
	return resultPayload{
		DeviceID:       res.DeviceID,
		Triggered:      res.Triggered,
		Transcription:  res.Transcription,
		Confidence:     res.Confidence,
		TriggeredWords: res.TriggeredWords,
		Timestamp:      res.Timestamp,
	}
}

// getResult consumes the pending result for the device. Reading is
// destructive: a second poll before the next trigger comes back empty.
func (s *Service) getResult(c *gin.Context) {
	deviceID := c.Param("deviceId")
	res, ok := s.mailbox.TakeIfPresent(deviceID)
	httptransport.RespondSuccess(c, http.StatusOK, resultFrom(deviceID, res, ok), "")
}

func (s *Service) clearResult(c *gin.Context) {
	deviceID := c.Param("deviceId")
	s.mailbox.Clear(deviceID)
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"device_id": deviceID, "cleared": true}, "")
}

type heartbeatRequest struct {
	DeviceID string         `json:"device_id" binding:"required"`
	IP       string         `json:"ip"`
	Signal   int            `json:"signal"`
	Metadata map[string]any `json:"metadata"`
}

// heartbeat records device liveness and bundles the pending result into
// the reply, so polling devices need a single round trip.
func (s *Service) heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid heartbeat payload", nil)
		return
	}

	if s.db != nil {
		hb := storage.Heartbeat{
			DeviceID:   req.DeviceID,
			ReportedIP: req.IP,
			Signal:     req.Signal,
			Metadata:   req.Metadata,
			SeenAt:     time.Now(),
		}
		if err := s.db.RecordHeartbeat(hb); err != nil {
			s.logger.ErrorTag("HTTP", "heartbeat persist failed for %s: %v", req.DeviceID, err)
		}
	}

	res, ok := s.mailbox.TakeIfPresent(req.DeviceID)
	httptransport.RespondSuccess(c, http.StatusOK, resultFrom(req.DeviceID, res, ok), "")
}

func (s *Service) getTriggerWords(c *gin.Context) {
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"words": s.words.Snapshot()}, "")
}

type triggerWordsRequest struct {
	Words []string `json:"words"`
}

// putTriggerWords replaces the vocabulary. An invalid list is rejected
// with 400 and leaves the active list untouched.
func (s *Service) putTriggerWords(c *gin.Context) {
	var req triggerWordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid trigger word payload", nil)
		return
	}
	if err := s.words.Replace(req.Words); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	words := s.words.Snapshot()
	if s.db != nil {
		if err := s.db.SaveTriggerWords(words); err != nil {
			s.logger.ErrorTag("HTTP", "trigger word persist failed: %v", err)
		}
	}
	s.logger.InfoTag("HTTP", "trigger words replaced: %v", words)
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"words": words}, "")
}

type tokenRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

func (s *Service) issueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "device_id required", nil)
		return
	}
	token, expiresAt, err := s.auth.IssueToken(c.Request.Context(), req.DeviceID, c.ClientIP())
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, "token issue failed", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"device_id":  req.DeviceID,
		"token":      token,
		"expires_at": expiresAt,
	}, "")
}

func (s *Service) revokeToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "device_id required", nil)
		return
	}
	if err := s.auth.Revoke(c.Request.Context(), req.DeviceID); err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, "revoke failed", nil)
		return
	}
	s.logger.InfoTag("HTTP", "token revoked for %s", req.DeviceID)
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"device_id": req.DeviceID, "revoked": true}, "")
}

// devicePayload merges persisted liveness with the live session state.
type devicePayload struct {
	DeviceID   string    `json:"device_id"`
	Connected  bool      `json:"connected"`
	ReportedIP string    `json:"reported_ip,omitempty"`
	Signal     int       `json:"signal,omitempty"`
	LastSeen   time.Time `json:"last_seen,omitempty"`
}

// listDevices reports every device that has ever sent a heartbeat,
// newest first, flagged with whether it holds an open session now.
func (s *Service) listDevices(c *gin.Context) {
	connected := make(map[string]bool, s.hub.Count())
	for _, id := range s.hub.Devices() {
		connected[id] = true
	}

	payload := []devicePayload{}
	if s.db != nil {
		rows, err := s.db.Devices()
		if err != nil {
			s.logger.ErrorTag("HTTP", "device listing failed: %v", err)
			httptransport.RespondError(c, http.StatusInternalServerError, "device listing failed", nil)
			return
		}
		for _, row := range rows {
			payload = append(payload, devicePayload{
				DeviceID:   row.DeviceID,
				Connected:  connected[row.DeviceID],
				ReportedIP: row.ReportedIP,
				Signal:     row.Signal,
				LastSeen:   row.LastSeen,
			})
			delete(connected, row.DeviceID)
		}
	}
	// Sessions open on devices that never heartbeated still show up.
	for id := range connected {
		payload = append(payload, devicePayload{DeviceID: id, Connected: true})
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"devices": payload}, "")
}

// getDevice reports liveness for a single device. Unknown devices get a
// 404 unless they hold an open session right now.
func (s *Service) getDevice(c *gin.Context) {
	deviceID := c.Param("deviceId")
	online := s.hub.Get(deviceID) != nil

	var row *storage.DeviceLiveness
	if s.db != nil {
		var err error
		row, err = s.db.LastSeen(deviceID)
		if err != nil {
			s.logger.ErrorTag("HTTP", "liveness lookup failed for %s: %v", deviceID, err)
			httptransport.RespondError(c, http.StatusInternalServerError, "liveness lookup failed", nil)
			return
		}
	}
	if row == nil {
		if !online {
			httptransport.RespondError(c, http.StatusNotFound, "unknown device", nil)
			return
		}
		httptransport.RespondSuccess(c, http.StatusOK, devicePayload{DeviceID: deviceID, Connected: true}, "")
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, devicePayload{
		DeviceID:   row.DeviceID,
		Connected:  online,
		ReportedIP: row.ReportedIP,
		Signal:     row.Signal,
		LastSeen:   row.LastSeen,
	}, "")
}

func (s *Service) status(c *gin.Context) {
	data := gin.H{
		"uptime":          time.Since(s.started).Round(time.Second).String(),
		"active_sessions": s.hub.Count(),
		"devices":         s.hub.Devices(),
		"pending_results": s.mailbox.Len(),
		"trigger_words":   s.words.Snapshot(),
	}
	if s.stats != nil {
		data["events"] = s.stats.Snapshot()
	}
	httptransport.RespondSuccess(c, http.StatusOK, data, "")
}

// AuthMiddleware verifies the bearer token on secured routes. The
// device id claimed by the token must match the request body, so the
// body peek happens in the handler.
func AuthMiddleware(manager *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !manager.Enabled() {
			c.Next()
			return
		}
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		deviceID := c.GetHeader("Device-Id")
		if token == "" || deviceID == "" || !manager.VerifyDevice(c.Request.Context(), deviceID, token) {
			httptransport.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
