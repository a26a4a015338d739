package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTTL = 24 * time.Hour

// putIfNewer stores the state only when ARGV[1] is greater than the cached version.
var putIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'v')
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 's', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// RedisStateCache is a StateCache over Redis hashes {v, s}.
type RedisStateCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStateCache creates the Redis cache. A zero ttl uses 24h.
func NewRedisStateCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStateCache {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStateCache{client: client, prefix: prefix, ttl: ttl}
}

// Get implements StateCache.
func (c *RedisStateCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	values, err := c.client.HMGet(ctx, c.prefix+key, "v", "s").Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if len(values) != 2 || values[0] == nil || values[1] == nil {
		return Entry{}, false, nil
	}

	rawVersion, ok := values[0].(string)
	if !ok {
		return Entry{}, false, errors.New("cache version has unexpected type")
	}
	version, err := strconv.Atoi(rawVersion)
	if err != nil {
		return Entry{}, false, fmt.Errorf("invalid cache version: %w", err)
	}
	state, _ := values[1].(string)
	return Entry{Version: version, State: []byte(state)}, true, nil
}

// Put implements StateCache.
func (c *RedisStateCache) Put(ctx context.Context, key string, entry Entry) (bool, error) {
	stored, err := putIfNewer.Run(ctx, c.client, []string{c.prefix + key},
		entry.Version, entry.State, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to write cache entry: %w", err)
	}
	return stored == 1, nil
}

// Invalidate implements StateCache.
func (c *RedisStateCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache entry: %w", err)
	}
	return nil
}
