// Package repair stores materializations that failed after all inline retries.
// The repair worker replays them from the event log, so a task only needs to
// name the stream and the sink.
package repair

import (
	"context"
	"errors"
	"time"
)

// Status of a repair task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrTaskNotFound is returned when a task id is unknown.
var ErrTaskNotFound = errors.New("repair task not found")

// Task is one failed sink run.
type Task struct {
	ID            string     `bson:"_id"`
	StreamID      string     `bson:"stream_id"`
	AggregateType string     `bson:"aggregate_type"`
	Sink          string     `bson:"sink"`
	Version       int        `bson:"version"`
	Error         string     `bson:"error"`
	Status        Status     `bson:"status"`
	Attempts      int        `bson:"attempts"`
	CreatedAt     time.Time  `bson:"created_at"`
	LastAttemptAt *time.Time `bson:"last_attempt_at,omitempty"`
	CompletedAt   *time.Time `bson:"completed_at,omitempty"`
}

// Queue manages repair tasks.
type Queue interface {
	// Add enqueues a task. A pending task for the same stream and sink absorbs
	// the new one and only has its version and error refreshed.
	Add(ctx context.Context, task Task) error

	// Claim moves up to batchSize pending tasks to processing and returns them,
	// oldest first.
	Claim(ctx context.Context, batchSize int) ([]Task, error)

	// MarkCompleted marks a task as completed.
	MarkCompleted(ctx context.Context, taskID string) error

	// Release puts a claimed task back to pending after a failed attempt.
	Release(ctx context.Context, taskID string, err error) error

	// MarkFailed parks a task for manual inspection.
	MarkFailed(ctx context.Context, taskID string, err error) error

	// GetStats returns queue statistics.
	GetStats(ctx context.Context) (*QueueStats, error)
}

// QueueStats contains statistics about the repair queue.
type QueueStats struct {
	PendingCount    int64
	ProcessingCount int64
	CompletedCount  int64
	FailedCount     int64
	TotalCount      int64
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
