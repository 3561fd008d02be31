package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v2"
	"go.uber.org/zap"
)

type MemoryStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache
	ttl   time.Duration
}

// NewMemoryStore creates an in-process store. onExpire is called with
// sessions that timed out, never with completed or aborted ones.
func NewMemoryStore(ttl time.Duration, onExpire func(s *Session)) *MemoryStore {
	c := ttlcache.NewCache()
	c.SkipTTLExtensionOnHit(true)

	c.SetExpirationReasonCallback(func(key string, reason ttlcache.EvictionReason, value interface{}) {
		if reason != ttlcache.Expired || onExpire == nil {
			return
		}

		s, ok := value.(*Session)
		if !ok {
			return
		}

		zap.L().Debug("Upload session expired", zap.String("token", key))
		go onExpire(s)
	})

	return &MemoryStore{
		cache: c,
		ttl:   ttl,
	}
}

func (m *MemoryStore) TTL() time.Duration {
	return m.ttl
}

func (m *MemoryStore) get(token string) (*Session, error) {
	v, err := m.cache.Get(token)
	if err != nil {
		if errors.Is(err, ttlcache.ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return v.(*Session), nil
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.get(s.Token); err == nil {
		return ErrExists
	}

	c := s.clone()
	c.ExpiresAt = time.Now().Add(m.ttl)
	s.ExpiresAt = c.ExpiresAt

	return m.cache.SetWithTTL(s.Token, c, m.ttl)
}

func (m *MemoryStore) Get(_ context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(token)
	if err != nil {
		return nil, err
	}

	return s.clone(), nil
}

func (m *MemoryStore) MarkReceived(_ context.Context, token string, n int) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(token)
	if err != nil {
		return nil, err
	}

	s.markReceived(n)
	s.ExpiresAt = time.Now().Add(m.ttl)

	if err := m.cache.SetWithTTL(token, s, m.ttl); err != nil {
		return nil, err
	}

	return s.clone(), nil
}

func (m *MemoryStore) Claim(_ context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(token)
	if err != nil {
		return nil, err
	}

	if err := m.cache.Remove(token); err != nil {
		if errors.Is(err, ttlcache.ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return s, nil
}

func (m *MemoryStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.cache.Remove(token)
	if err != nil && !errors.Is(err, ttlcache.ErrNotFound) {
		return err
	}

	return nil
}

func (m *MemoryStore) Exists(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.get(token)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}

	return err == nil, err
}

func (m *MemoryStore) Close() error {
	return m.cache.Close()
}
