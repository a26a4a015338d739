package repair

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lllypuk/estately/internal/domain/uuid"
)

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{tasks: make(map[string]*Task), now: time.Now}
}

// Add implements Queue.
func (q *MemoryQueue) Add(_ context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.tasks {
		if existing.Status == StatusPending &&
			existing.StreamID == task.StreamID &&
			existing.AggregateType == task.AggregateType &&
			existing.Sink == task.Sink {
			existing.Version = max(existing.Version, task.Version)
			existing.Error = task.Error
			return nil
		}
	}

	if task.ID == "" {
		task.ID = uuid.NewUUID().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = q.now()
	}
	task.Status = StatusPending
	task.Attempts = 0
	q.tasks[task.ID] = &task
	return nil
}

// Claim implements Queue.
func (q *MemoryQueue) Claim(_ context.Context, batchSize int) ([]Task, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	pending := make([]*Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		if task.Status == StatusPending {
			pending = append(pending, task)
		}
	}
	slices.SortFunc(pending, func(a, b *Task) int { return a.CreatedAt.Compare(b.CreatedAt) })

	claimed := make([]Task, 0, min(batchSize, len(pending)))
	for _, task := range pending[:min(batchSize, len(pending))] {
		now := q.now()
		task.Status = StatusProcessing
		task.Attempts++
		task.LastAttemptAt = &now
		claimed = append(claimed, *task)
	}
	return claimed, nil
}

// MarkCompleted implements Queue.
func (q *MemoryQueue) MarkCompleted(_ context.Context, taskID string) error {
	return q.update(taskID, func(t *Task) {
		now := q.now()
		t.Status = StatusCompleted
		t.CompletedAt = &now
	})
}

// Release implements Queue.
func (q *MemoryQueue) Release(_ context.Context, taskID string, err error) error {
	return q.update(taskID, func(t *Task) {
		t.Status = StatusPending
		t.Error = errorText(err)
	})
}

// MarkFailed implements Queue.
func (q *MemoryQueue) MarkFailed(_ context.Context, taskID string, err error) error {
	return q.update(taskID, func(t *Task) {
		t.Status = StatusFailed
		t.Error = errorText(err)
	})
}

// GetStats implements Queue.
func (q *MemoryQueue) GetStats(context.Context) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &QueueStats{}
	for _, task := range q.tasks {
		stats.add(task.Status, 1)
	}
	return stats, nil
}

// Tasks returns a copy of all tasks.
func (q *MemoryQueue) Tasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		out = append(out, *task)
	}
	slices.SortFunc(out, func(a, b Task) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (q *MemoryQueue) update(taskID string, fn func(*Task)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	fn(task)
	return nil
}
