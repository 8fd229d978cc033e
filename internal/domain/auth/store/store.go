package store

import (
	"context"
	"fmt"
	"time"

	"earwatch-server-go/internal/domain/auth/model"
)

// Store persists issued device credentials.
type Store interface {
	Save(ctx context.Context, cred *model.DeviceCredential) error
	Get(ctx context.Context, deviceID string) (*model.DeviceCredential, error)
	Verify(ctx context.Context, deviceID, token string) (bool, error)
	Remove(ctx context.Context, deviceID string) error
	List(ctx context.Context) ([]*model.DeviceCredential, error)
	Close() error
}

// Config selects and parameterizes a credential store backend.
type Config struct {
	Type   string
	Expiry time.Duration
	Redis  RedisConfig
	Memory MemoryConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type MemoryConfig struct {
	CleanupInterval time.Duration
}

// New builds a store from configuration.
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(cfg.Memory.CleanupInterval), nil
	case "redis":
		return NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown auth store type: %s", cfg.Type)
	}
}
