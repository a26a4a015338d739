//go:build integration

package webhook_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/infrastructure/webhook"
	"github.com/lllypuk/estately/tests/testutil"
)

func TestRedisDedupeStore(t *testing.T) {
	client, prefix := testutil.SetupTestRedisWithPrefix(t)
	ctx := context.Background()
	s := webhook.NewRedisDedupeStore(client, prefix, 0)

	seen, err := s.Seen(ctx, "ref-1:successful")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Mark(ctx, "ref-1:successful"))
	require.NoError(t, s.Mark(ctx, "ref-1:successful"))

	seen, err = s.Seen(ctx, "ref-1:successful")
	require.NoError(t, err)
	assert.True(t, seen)

	ttl, err := client.TTL(ctx, prefix+"ref-1:successful").Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}
