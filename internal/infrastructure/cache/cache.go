// Package cache keeps disposable, version-stamped copies of projected state.
// The event log stays authoritative: every entry can be dropped and rebuilt.
package cache

import (
	"context"
	"sync"
	"time"
)

// Entry is one cached projection.
type Entry struct {
	Version int
	State   []byte
}

// StateCache stores projections keyed by stream.
type StateCache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Put stores entry only when its version is greater than the cached one.
	// Returns whether the entry was stored.
	Put(ctx context.Context, key string, entry Entry) (bool, error)
	Invalidate(ctx context.Context, key string) error
}

// Key builds the cache key of a stream.
func Key(aggregateType, streamID string) string {
	return "state:" + aggregateType + ":" + streamID
}

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStateCache is a process-local StateCache.
type MemoryStateCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryStateCache creates a memory cache. A zero ttl keeps entries forever.
func NewMemoryStateCache(ttl time.Duration) *MemoryStateCache {
	return &MemoryStateCache{
		items: make(map[string]memoryItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get implements StateCache.
func (c *MemoryStateCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	if !item.expiresAt.IsZero() && c.now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return Entry{}, false, nil
	}
	return item.entry, true, nil
}

// Put implements StateCache.
func (c *MemoryStateCache) Put(_ context.Context, key string, entry Entry) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.items[key]; ok && current.entry.Version >= entry.Version {
		return false, nil
	}
	item := memoryItem{entry: Entry{Version: entry.Version, State: append([]byte(nil), entry.State...)}}
	if c.ttl > 0 {
		item.expiresAt = c.now().Add(c.ttl)
	}
	c.items[key] = item
	return true, nil
}

// Invalidate implements StateCache.
func (c *MemoryStateCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// Len returns the number of entries.
func (c *MemoryStateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
