package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupeTTL is how long a reconciled callback key is remembered.
const DefaultDedupeTTL = 7 * 24 * time.Hour

// RedisDedupeStore implements apppayment.DedupeStore with SETNX keys.
type RedisDedupeStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisDedupeStore creates the store. A zero ttl uses DefaultDedupeTTL.
func NewRedisDedupeStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDedupeStore {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDedupeStore{client: client, prefix: prefix, ttl: ttl}
}

// Seen implements apppayment.DedupeStore.
func (s *RedisDedupeStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dedupe key: %w", err)
	}
	return n > 0, nil
}

// Mark implements apppayment.DedupeStore.
func (s *RedisDedupeStore) Mark(ctx context.Context, key string) error {
	if err := s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark dedupe key: %w", err)
	}
	return nil
}

// MemoryDedupeStore is a process-local apppayment.DedupeStore.
type MemoryDedupeStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryDedupeStore creates the store. A zero ttl uses DefaultDedupeTTL.
func NewMemoryDedupeStore(ttl time.Duration) *MemoryDedupeStore {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &MemoryDedupeStore{keys: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// Seen implements apppayment.DedupeStore.
func (s *MemoryDedupeStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.keys[key]
	if !ok {
		return false, nil
	}
	if s.now().After(expires) {
		delete(s.keys, key)
		return false, nil
	}
	return true, nil
}

// Mark implements apppayment.DedupeStore.
func (s *MemoryDedupeStore) Mark(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; !ok {
		s.keys[key] = s.now().Add(s.ttl)
	}
	return nil
}
