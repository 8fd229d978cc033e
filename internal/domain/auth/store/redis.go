package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"earwatch-server-go/internal/domain/auth/model"
)

const defaultRedisPrefix = "earwatch:auth:"

// RedisStore keeps credentials in Redis with per-key TTL, so expiry
// needs no sweeper of its own.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(deviceID string) string {
	return s.prefix + deviceID
}

func (s *RedisStore) Save(ctx context.Context, cred *model.DeviceCredential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	var ttl time.Duration
	if cred.ExpiresAt != nil {
		ttl = time.Until(*cred.ExpiresAt)
		if ttl <= 0 {
			return s.client.Del(ctx, s.key(cred.DeviceID)).Err()
		}
	}
	return s.client.Set(ctx, s.key(cred.DeviceID), data, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, deviceID string) (*model.DeviceCredential, error) {
	data, err := s.client.Get(ctx, s.key(deviceID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cred model.DeviceCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}
	return &cred, nil
}

func (s *RedisStore) Verify(ctx context.Context, deviceID, token string) (bool, error) {
	cred, err := s.Get(ctx, deviceID)
	if err != nil || cred == nil {
		return false, err
	}
	return cred.Token == token, nil
}

func (s *RedisStore) Remove(ctx context.Context, deviceID string) error {
	return s.client.Del(ctx, s.key(deviceID)).Err()
}

func (s *RedisStore) List(ctx context.Context) ([]*model.DeviceCredential, error) {
	var out []*model.DeviceCredential
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var cred model.DeviceCredential
		if err := json.Unmarshal(data, &cred); err != nil {
			continue
		}
		out = append(out, &cred)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
