// Package healthcheck reports how far the asynchronous parts of the engine lag
// behind the event log.
package healthcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/lllypuk/estately/internal/application/appcore"
)

const (
	defaultBacklogThreshold = 1000
	defaultMaxOutboxAge     = 5 * time.Minute
)

// OutboxStats is the read side of appcore.Outbox.
type OutboxStats interface {
	Stats(ctx context.Context) (count int64, oldest time.Time, err error)
}

// OutboxBacklogChecker checks the outbox backlog size and age.
type OutboxBacklogChecker struct {
	outbox    OutboxStats
	threshold int64
	maxAge    time.Duration
	now       func() time.Time
}

// OutboxBacklogOption configures OutboxBacklogChecker.
type OutboxBacklogOption func(*OutboxBacklogChecker)

// WithBacklogThreshold sets the number of unpublished entries tolerated.
func WithBacklogThreshold(threshold int64) OutboxBacklogOption {
	return func(c *OutboxBacklogChecker) {
		c.threshold = threshold
	}
}

// WithMaxAge sets how old the oldest unpublished entry may get.
func WithMaxAge(age time.Duration) OutboxBacklogOption {
	return func(c *OutboxBacklogChecker) {
		c.maxAge = age
	}
}

// NewOutboxBacklogChecker creates a new outbox backlog health checker.
func NewOutboxBacklogChecker(outbox OutboxStats, opts ...OutboxBacklogOption) *OutboxBacklogChecker {
	c := &OutboxBacklogChecker{
		outbox:    outbox,
		threshold: defaultBacklogThreshold,
		maxAge:    defaultMaxOutboxAge,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the name of this health checker.
func (c *OutboxBacklogChecker) Name() string {
	return "outbox_backlog"
}

// Check performs the health check.
func (c *OutboxBacklogChecker) Check(ctx context.Context) appcore.HealthStatus {
	count, oldest, err := c.outbox.Stats(ctx)
	if err != nil {
		return unhealthy(fmt.Sprintf("failed to get outbox stats: %v", err))
	}

	details := map[string]any{
		"backlog_count": count,
		"threshold":     c.threshold,
		"max_age":       c.maxAge.String(),
	}
	message := fmt.Sprintf("outbox backlog: %d events", count)

	var lag time.Duration
	if count > 0 && !oldest.IsZero() {
		lag = c.now().Sub(oldest)
		details["oldest_event_age"] = lag.String()
		message = fmt.Sprintf("outbox backlog: %d events, oldest: %v ago", count, lag.Round(time.Second))
	}

	return appcore.HealthStatus{
		Healthy:   count < c.threshold && lag <= c.maxAge,
		Message:   message,
		Details:   details,
		CheckedAt: c.now(),
	}
}

var _ OutboxStats = (appcore.Outbox)(nil)
