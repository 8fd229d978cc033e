package store

import (
	"context"
	"sync"
	"time"

	"earwatch-server-go/internal/domain/auth/model"
)

const defaultCleanupInterval = time.Minute

// MemoryStore keeps credentials in process memory. Expired entries are
// swept by a background goroutine until Close is called.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*model.DeviceCredential

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	s := &MemoryStore{
		creds: make(map[string]*model.DeviceCredential),
		stop:  make(chan struct{}),
	}
	go s.gcLoop(cleanupInterval)
	return s
}

func (s *MemoryStore) Save(_ context.Context, cred *model.DeviceCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cred
	s.creds[cred.DeviceID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, deviceID string) (*model.DeviceCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[deviceID]
	if !ok || cred.Expired(time.Now()) {
		return nil, nil
	}
	cp := *cred
	return &cp, nil
}

func (s *MemoryStore) Verify(ctx context.Context, deviceID, token string) (bool, error) {
	cred, err := s.Get(ctx, deviceID)
	if err != nil || cred == nil {
		return false, err
	}
	return cred.Token == token, nil
}

func (s *MemoryStore) Remove(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, deviceID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*model.DeviceCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	out := make([]*model.DeviceCredential, 0, len(s.creds))
	for _, cred := range s.creds {
		if cred.Expired(now) {
			continue
		}
		cp := *cred
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cred := range s.creds {
		if cred.Expired(now) {
			delete(s.creds, id)
		}
	}
}
