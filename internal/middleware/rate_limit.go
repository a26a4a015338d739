package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Rate limit defaults.
const (
	DefaultRateLimit       = 100
	DefaultRateLimitWindow = time.Minute
	DefaultBurstSize       = 10
)

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	// Increment increments the counter for key and returns the new count
	// together with the time left in the current window.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	Logger *slog.Logger

	// Store is the counter backend. A nil store disables limiting.
	Store RateLimitStore

	// Limit is the maximum number of requests allowed per window.
	Limit int

	Window time.Duration

	// BurstSize is added to Limit.
	BurstSize int

	// KeyFunc builds the counter key. Defaults to route and client IP.
	KeyFunc func(c echo.Context) string

	SkipPaths []string
}

// DefaultRateLimitConfig returns a RateLimitConfig with sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Logger:    slog.Default(),
		Limit:     DefaultRateLimit,
		Window:    DefaultRateLimitWindow,
		BurstSize: DefaultBurstSize,
		SkipPaths: []string{"/health", "/ready", "/metrics"},
	}
}

// RateLimit returns a rate limiting middleware with the given configuration.
// Store failures let the request through.
func RateLimit(config RateLimitConfig) echo.MiddlewareFunc {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Limit <= 0 {
		config.Limit = DefaultRateLimit
	}
	if config.Window <= 0 {
		config.Window = DefaultRateLimitWindow
	}
	if config.KeyFunc == nil {
		config.KeyFunc = RouteAndIPKey
	}

	skipPaths := make(map[string]struct{}, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = struct{}{}
	}
	total := int64(config.Limit + config.BurstSize)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Store == nil {
				return next(c)
			}
			if _, ok := skipPaths[c.Request().URL.Path]; ok {
				return next(c)
			}

			ctx := c.Request().Context()
			key := config.KeyFunc(c)
			count, ttl, err := config.Store.Increment(ctx, key, config.Window)
			if err != nil {
				config.Logger.WarnContext(ctx, "rate limit store failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				return next(c)
			}

			header := c.Response().Header()
			header.Set("X-Ratelimit-Limit", strconv.FormatInt(total, 10))
			header.Set("X-Ratelimit-Remaining", strconv.FormatInt(max(total-count, 0), 10))
			if ttl > 0 {
				header.Set("X-Ratelimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))
			}

			if count > total {
				config.Logger.WarnContext(ctx, "rate limit exceeded",
					slog.String("key", key),
					slog.Int64("count", count),
					slog.Int64("limit", total),
				)
				return respondRateLimitError(c, ttl)
			}
			return next(c)
		}
	}
}

// RouteAndIPKey keys counters by route pattern and client IP.
func RouteAndIPKey(c echo.Context) string {
	return fmt.Sprintf("%s:%s:%s", c.Request().Method, c.Path(), c.RealIP())
}

func respondRateLimitError(c echo.Context, retryAfter time.Duration) error {
	seconds := int64(retryAfter.Seconds())
	if retryAfter > 0 {
		c.Response().Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"success": false,
		"error": map[string]any{
			"code":        "RATE_LIMIT_EXCEEDED",
			"message":     "Too many requests. Please try again later.",
			"retry_after": seconds,
		},
	})
}

// MemoryRateLimitStore is a process-local RateLimitStore.
type MemoryRateLimitStore struct {
	mu     sync.Mutex
	counts map[string]*rateLimitEntry
	now    func() time.Time
}

type rateLimitEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryRateLimitStore creates an in-memory store.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		counts: make(map[string]*rateLimitEntry),
		now:    time.Now,
	}
}

// Increment implements RateLimitStore.
func (s *MemoryRateLimitStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.counts[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		s.counts[key] = entry
	}
	entry.count++
	return entry.count, entry.expiresAt.Sub(now), nil
}

// RedisRateLimitStore shares counters between API replicas.
type RedisRateLimitStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisRateLimitStore creates a Redis-backed store.
func NewRedisRateLimitStore(client redis.UniversalClient, keyPrefix string) *RedisRateLimitStore {
	if keyPrefix == "" {
		keyPrefix = "estately:ratelimit:"
	}
	return &RedisRateLimitStore{client: client, keyPrefix: keyPrefix}
}

// Increment implements RateLimitStore.
func (s *RedisRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	fullKey := s.keyPrefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		pipe.ExpireNX(ctx, fullKey, window)
		ttl = pipe.PTTL(ctx, fullKey)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return incr.Val(), ttl.Val(), nil
}
