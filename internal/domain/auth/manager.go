package auth

import (
	"context"
	"time"

	"earwatch-server-go/internal/domain/auth/model"
	"earwatch-server-go/internal/domain/auth/store"
	"earwatch-server-go/internal/platform/errors"
	"earwatch-server-go/internal/platform/logging"
)

// Manager gates device access. When disabled every device is admitted;
// when enabled a device must present a token previously issued for it.
type Manager struct {
	enabled bool
	tokens  *AuthToken
	store   store.Store
	logger  *logging.Logger
}

func NewManager(enabled bool, secretKey string, cfg store.Config, logger *logging.Logger) (*Manager, error) {
	m := &Manager{
		enabled: enabled,
		tokens:  NewAuthToken(secretKey, cfg.Expiry),
		logger:  logger,
	}
	if !enabled {
		return m, nil
	}
	s, err := store.New(cfg)
	if err != nil {
		return nil, errors.Wrap(errors.KindAuth, "auth.NewManager", "create credential store", err)
	}
	m.store = s
	return m, nil
}

func (m *Manager) Enabled() bool { return m.enabled }

// IssueToken creates and records a token for deviceID.
func (m *Manager) IssueToken(ctx context.Context, deviceID, ip string) (string, time.Time, error) {
	const op = "auth.IssueToken"
	token, expiresAt, err := m.tokens.GenerateToken(deviceID)
	if err != nil {
		return "", time.Time{}, errors.Wrap(errors.KindAuth, op, "generate token", err)
	}
	if m.store != nil {
		cred := &model.DeviceCredential{
			DeviceID:  deviceID,
			Token:     token,
			IP:        ip,
			CreatedAt: time.Now(),
			ExpiresAt: &expiresAt,
		}
		if err := m.store.Save(ctx, cred); err != nil {
			return "", time.Time{}, errors.Wrap(errors.KindAuth, op, "store credential", err)
		}
	}
	return token, expiresAt, nil
}

// VerifyDevice reports whether deviceID may connect with token.
func (m *Manager) VerifyDevice(ctx context.Context, deviceID, token string) bool {
	if !m.enabled {
		return true
	}
	claimed, err := m.tokens.VerifyToken(token)
	if err != nil {
		m.logger.DebugTag("Auth", "token rejected for %s: %v", deviceID, err)
		return false
	}
	if claimed != deviceID {
		m.logger.WarnTag("Auth", "token device mismatch: claimed %s, presented by %s", claimed, deviceID)
		return false
	}
	if m.store != nil {
		ok, err := m.store.Verify(ctx, deviceID, token)
		if err != nil {
			m.logger.ErrorTag("Auth", "credential lookup failed for %s: %v", deviceID, err)
			return false
		}
		return ok
	}
	return true
}

// Revoke drops the stored credential for deviceID.
func (m *Manager) Revoke(ctx context.Context, deviceID string) error {
	if m.store == nil {
		return nil
	}
	return m.store.Remove(ctx, deviceID)
}

func (m *Manager) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}
