package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "payment:callback:"
	DefaultTTL       = 24 * time.Hour

	OutcomeSuccess = "SUCCESS"
	OutcomeFailed  = "FAILED"
	OutcomeRefund  = "REFUNDED"
)

// Store is an atomic create-if-absent key store. Claim reports whether the
// key was created by this call.
type Store interface {
	Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

type RedisStore struct {
	Client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{Client: client}
}

func (s *RedisStore) Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if s == nil || s.Client == nil {
		return false, errors.New("redis idempotency store not configured")
	}
	return s.Client.SetNX(ctx, key, value, ttl).Result()
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is the single-process Store used in tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memoryEntry{}, now: time.Now}
}

func (s *MemoryStore) Claim(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && (e.expiresAt.IsZero() || now.Before(e.expiresAt)) {
		return false, nil
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
	return true, nil
}

// Value returns the stored value for key, if present and unexpired.
func (s *MemoryStore) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || (!e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)) {
		return "", false
	}
	return e.value, true
}
