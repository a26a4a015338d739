package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	redisMemoryLimit = 128 * 1024 * 1024
	redisPoolSize    = 10
)

var redisContainer = newSharedContainer("redis", "6379", testcontainers.ContainerRequest{
	Image: "redis:7-alpine",
	HostConfigModifier: func(hc *container.HostConfig) {
		hc.Memory = redisMemoryLimit
		hc.MemorySwap = redisMemoryLimit
	},
	WaitingFor: wait.ForAll(
		wait.ForLog("Ready to accept connections").WithStartupTimeout(containerStartupTimeout),
		wait.ForListeningPort("6379/tcp").WithStartupTimeout(containerStartupTimeout),
	),
})

// RedisAddr returns the address tests should use: TEST_REDIS_ADDR when set,
// otherwise the shared container.
func RedisAddr(t *testing.T) string {
	t.Helper()

	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	addr, err := redisContainer.Address(context.Background())
	if err != nil {
		t.Fatalf("Failed to get Redis: %v", err)
	}
	return addr
}

// SetupTestRedis returns a client of its own. Keys the test wrote under its
// prefix are removed on cleanup.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr:     RedisAddr(t),
		PoolSize: redisPoolSize,
	})
	if err := retryPing(func(ctx context.Context) error { return client.Ping(ctx).Err() }); err != nil {
		_ = client.Close()
		t.Fatalf("Failed to ping Redis: %v", err)
	}

	prefix := redisTestPrefix(t)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		iter := client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			_ = client.Del(ctx, iter.Val()).Err()
		}
		_ = client.Close()
	})

	return client
}

// SetupTestRedisWithPrefix also returns the key prefix reserved for the test,
// so tests sharing the server do not see each other's keys.
func SetupTestRedisWithPrefix(t *testing.T) (*redis.Client, string) {
	t.Helper()
	return SetupTestRedis(t), redisTestPrefix(t)
}

func redisTestPrefix(t *testing.T) string {
	return fmt.Sprintf("estately_test:%s:", strings.ReplaceAll(t.Name(), "/", "_"))
}
