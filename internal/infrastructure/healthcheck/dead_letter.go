package healthcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/lllypuk/estately/internal/application/appcore"
)

// DeadLetterCounter reports how many events were dead-lettered.
type DeadLetterCounter interface {
	Len(ctx context.Context) (int64, error)
}

// DeadLetterChecker turns unhealthy once dead letters pile up.
type DeadLetterChecker struct {
	store     DeadLetterCounter
	threshold int64
}

// NewDeadLetterChecker creates the checker. A non-positive threshold means any
// dead letter is unhealthy.
func NewDeadLetterChecker(store DeadLetterCounter, threshold int64) *DeadLetterChecker {
	return &DeadLetterChecker{store: store, threshold: max(threshold, 0)}
}

// Name returns the name of this health checker.
func (c *DeadLetterChecker) Name() string {
	return "dead_letter_queue"
}

// Check performs the health check.
func (c *DeadLetterChecker) Check(ctx context.Context) appcore.HealthStatus {
	count, err := c.store.Len(ctx)
	if err != nil {
		return unhealthy(fmt.Sprintf("failed to read dead letter queue: %v", err))
	}

	return appcore.HealthStatus{
		Healthy: count <= c.threshold,
		Message: fmt.Sprintf("dead letter queue: %d events", count),
		Details: map[string]any{
			"dead_letters": count,
			"threshold":    c.threshold,
		},
		CheckedAt: time.Now(),
	}
}

func unhealthy(message string) appcore.HealthStatus {
	return appcore.HealthStatus{Healthy: false, Message: message, CheckedAt: time.Now()}
}
