package testutil

import (
	"context"
	"testing"
	"time"
)

const contextTimeout = 30 * time.Second

// NewTestContext creates context with timeout for tests
func NewTestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), contextTimeout)
	t.Cleanup(cancel)
	return ctx
}
