package healthcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/infrastructure/repair"
)

const defaultRepairThreshold = 10

// RepairStats is the read side of repair.Queue.
type RepairStats interface {
	GetStats(ctx context.Context) (*repair.QueueStats, error)
}

// RepairQueueChecker is unhealthy when repairs back up or any repair was parked as failed.
type RepairQueueChecker struct {
	queue     RepairStats
	threshold int64
}

// NewRepairQueueChecker creates a new repair queue health checker.
func NewRepairQueueChecker(queue RepairStats, threshold int64) *RepairQueueChecker {
	if threshold <= 0 {
		threshold = defaultRepairThreshold
	}
	return &RepairQueueChecker{queue: queue, threshold: threshold}
}

// Name returns the name of this health checker.
func (c *RepairQueueChecker) Name() string {
	return "repair_queue"
}

// Check performs the health check.
func (c *RepairQueueChecker) Check(ctx context.Context) appcore.HealthStatus {
	stats, err := c.queue.GetStats(ctx)
	if err != nil {
		return unhealthy(fmt.Sprintf("failed to get repair queue stats: %v", err))
	}

	backlog := stats.PendingCount + stats.ProcessingCount
	return appcore.HealthStatus{
		Healthy: backlog < c.threshold && stats.FailedCount == 0,
		Message: fmt.Sprintf("repair queue: %d pending, %d processing, %d failed",
			stats.PendingCount, stats.ProcessingCount, stats.FailedCount),
		Details: map[string]any{
			"pending_repairs":    stats.PendingCount,
			"processing_repairs": stats.ProcessingCount,
			"failed_repairs":     stats.FailedCount,
			"threshold":          c.threshold,
		},
		CheckedAt: time.Now(),
	}
}
