// Package queue hands verified provider callbacks to background reconciliation.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	apppayment "github.com/lllypuk/estately/internal/application/payment"
)

// Task types and queues.
const (
	TypeWebhookReconcile = "webhook:reconcile"
	TypePaymentsExpire   = "payments:expire"

	QueueWebhooks    = "webhooks"
	QueueMaintenance = "maintenance"
)

const (
	defaultMaxRetry    = 10
	defaultTaskTimeout = 30 * time.Second

	defaultInlineAttempts   = 5
	defaultInlineRetryDelay = time.Second
)

// ErrQueueFull is returned by InlineQueue when its buffer is exhausted.
var ErrQueueFull = errors.New("callback queue is full")

// Enqueuer accepts callbacks for reconciliation.
type Enqueuer interface {
	EnqueueCallback(ctx context.Context, cb apppayment.ProviderCallback) error
}

// Reconciler processes one callback.
type Reconciler interface {
	Reconcile(ctx context.Context, cb apppayment.ProviderCallback) (apppayment.Reconciliation, error)
}

// NewReconcileTask encodes a callback as an asynq task.
func NewReconcileTask(cb apppayment.ProviderCallback) (*asynq.Task, error) {
	payload, err := json.Marshal(cb)
	if err != nil {
		return nil, fmt.Errorf("failed to encode callback: %w", err)
	}
	return asynq.NewTask(TypeWebhookReconcile, payload), nil
}

// DecodeReconcileTask decodes the callback of a reconcile task.
func DecodeReconcileTask(t *asynq.Task) (apppayment.ProviderCallback, error) {
	var cb apppayment.ProviderCallback
	if err := json.Unmarshal(t.Payload(), &cb); err != nil {
		return cb, fmt.Errorf("failed to decode callback: %w", err)
	}
	return cb, nil
}

// AsynqQueue enqueues callbacks into Redis through asynq.
type AsynqQueue struct {
	client    *asynq.Client
	inspector TaskInspector
	maxRetry  int
	logger    *slog.Logger
}

// TaskInspector looks up and removes queued tasks. *asynq.Inspector satisfies it.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// NewAsynqQueue creates the queue. A non-positive maxRetry uses the default.
// inspector may be nil, then a settled task keeps its ID until asynq drops it.
func NewAsynqQueue(client *asynq.Client, inspector TaskInspector, maxRetry int, logger *slog.Logger) *AsynqQueue {
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsynqQueue{client: client, inspector: inspector, maxRetry: maxRetry, logger: logger}
}

// CallbackTaskID is the task ID of a callback: one live task per dedupe key.
func CallbackTaskID(cb apppayment.ProviderCallback) string {
	return "cb:" + cb.DedupeKey()
}

// EnqueueCallback implements Enqueuer. A callback already waiting or running
// under the same dedupe key is not enqueued twice. An archived or completed
// task holding the key is replaced, so a redelivered callback is reconciled again.
func (q *AsynqQueue) EnqueueCallback(ctx context.Context, cb apppayment.ProviderCallback) error {
	task, err := NewReconcileTask(cb)
	if err != nil {
		return err
	}

	id := CallbackTaskID(cb)
	info, err := q.enqueue(ctx, task, id)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		info, err = q.replaceSettled(ctx, task, id)
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue callback: %w", err)
	}
	if info == nil {
		q.logger.DebugContext(ctx, "callback already queued", slog.String("key", cb.DedupeKey()))
		return nil
	}

	q.logger.DebugContext(ctx, "callback enqueued",
		slog.String("task_id", info.ID),
		slog.String("provider", cb.Provider),
		slog.String("provider_ref", cb.ProviderRef),
	)
	return nil
}

func (q *AsynqQueue) enqueue(ctx context.Context, task *asynq.Task, id string) (*asynq.TaskInfo, error) {
	return q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueWebhooks),
		asynq.TaskID(id),
		asynq.MaxRetry(q.maxRetry),
		asynq.Timeout(defaultTaskTimeout),
	)
}

// replaceSettled resolves a task ID conflict. A nil info with nil error means
// a live task already holds the ID.
func (q *AsynqQueue) replaceSettled(ctx context.Context, task *asynq.Task, id string) (*asynq.TaskInfo, error) {
	if q.inspector == nil {
		return nil, nil
	}

	existing, err := q.inspector.GetTaskInfo(QueueWebhooks, id)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound):
		// задачу удалили между конфликтом и проверкой
	case err != nil:
		return nil, fmt.Errorf("failed to inspect task %s: %w", id, err)
	case existing.State == asynq.TaskStateArchived, existing.State == asynq.TaskStateCompleted:
		q.logger.InfoContext(ctx, "replacing settled callback task",
			slog.String("task_id", id),
			slog.String("state", existing.State.String()),
			slog.String("last_error", existing.LastErr),
		)
		if err := q.inspector.DeleteTask(QueueWebhooks, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return nil, fmt.Errorf("failed to delete task %s: %w", id, err)
		}
	default:
		return nil, nil
	}

	info, err := q.enqueue(ctx, task, id)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// параллельная доставка успела первой
		return nil, nil
	}
	return info, err
}

// InlineOption configures InlineQueue.
type InlineOption func(*InlineQueue)

// WithInlineRetry sets how many times a failing callback is reconciled and the
// delay before the first retry. The delay doubles on every retry.
func WithInlineRetry(maxAttempts int, delay time.Duration) InlineOption {
	return func(q *InlineQueue) {
		if maxAttempts > 0 {
			q.maxAttempts = maxAttempts
		}
		if delay > 0 {
			q.retryDelay = delay
		}
	}
}

type inlineJob struct {
	cb      apppayment.ProviderCallback
	attempt int
}

// InlineQueue reconciles callbacks on a bounded in-process worker pool. Used
// when Redis is not configured, so queued callbacks do not survive a restart.
// A transient failure is requeued after a delay; permanent ones are dropped.
type InlineQueue struct {
	reconciler  Reconciler
	jobs        chan inlineJob
	workers     int
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewInlineQueue creates an inline queue with workers goroutines and a buffer of size buffer.
func NewInlineQueue(reconciler Reconciler, workers, buffer int, logger *slog.Logger, opts ...InlineOption) *InlineQueue {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &InlineQueue{
		reconciler:  reconciler,
		jobs:        make(chan inlineJob, buffer),
		workers:     workers,
		maxAttempts: defaultInlineAttempts,
		retryDelay:  defaultInlineRetryDelay,
		logger:      logger,
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnqueueCallback implements Enqueuer without blocking.
func (q *InlineQueue) EnqueueCallback(_ context.Context, cb apppayment.ProviderCallback) error {
	return q.push(inlineJob{cb: cb, attempt: 1})
}

func (q *InlineQueue) push(job inlineJob) error {
	select {
	case <-q.stopped:
		return ErrQueueFull
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start runs the workers until ctx is done, then drains nothing further.
func (q *InlineQueue) Start(ctx context.Context) error {
	for range q.workers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.jobs:
					q.process(ctx, job)
				}
			}
		}()
	}
	<-ctx.Done()
	q.stopOnce.Do(func() { close(q.stopped) })
	q.wg.Wait()
	return nil
}

func (q *InlineQueue) process(ctx context.Context, job inlineJob) {
	cb := job.cb
	rec, err := q.reconciler.Reconcile(ctx, cb)
	if err == nil {
		q.logger.DebugContext(ctx, "callback reconciled",
			slog.String("provider_ref", cb.ProviderRef),
			slog.String("outcome", string(rec.Outcome)),
		)
		return
	}

	attrs := []any{
		slog.String("provider", cb.Provider),
		slog.String("provider_ref", cb.ProviderRef),
		slog.Int("attempt", job.attempt),
		slog.String("error", err.Error()),
	}
	if apppayment.IsPermanent(err) || job.attempt >= q.maxAttempts || ctx.Err() != nil {
		q.logger.ErrorContext(ctx, "callback reconciliation failed", attrs...)
		return
	}

	q.logger.WarnContext(ctx, "callback reconciliation failed, requeueing", attrs...)
	delay := q.retryDelay << (job.attempt - 1)
	next := inlineJob{cb: cb, attempt: job.attempt + 1}
	time.AfterFunc(delay, func() {
		if err := q.push(next); err != nil {
			q.logger.Error("callback dropped on requeue",
				slog.String("provider_ref", cb.ProviderRef),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Pending returns the number of buffered callbacks.
func (q *InlineQueue) Pending() int {
	return len(q.jobs)
}
