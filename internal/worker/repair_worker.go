package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lllypuk/estately/internal/infrastructure/materialize"
	"github.com/lllypuk/estately/internal/infrastructure/repair"
)

// Default repair worker configuration values.
const (
	defaultRepairPollInterval = 30 * time.Second
	defaultRepairBatchSize    = 10
	defaultRepairMaxRetries   = 5
)

// RepairWorkerConfig contains configuration for the repair worker.
type RepairWorkerConfig struct {
	// PollInterval is the time between polling the repair queue.
	PollInterval time.Duration

	// BatchSize is the maximum number of tasks claimed per poll cycle.
	BatchSize int

	// MaxRetries is the number of attempts after which a task is parked as failed.
	MaxRetries int

	// Enabled determines if the worker should run.
	Enabled bool
}

// DefaultRepairWorkerConfig returns sensible default configuration.
func DefaultRepairWorkerConfig() RepairWorkerConfig {
	return RepairWorkerConfig{
		PollInterval: defaultRepairPollInterval,
		BatchSize:    defaultRepairBatchSize,
		MaxRetries:   defaultRepairMaxRetries,
		Enabled:      true,
	}
}

// Rematerializer replays the current state of a stream into one sink.
type Rematerializer interface {
	Rematerialize(ctx context.Context, aggregateType, streamID, sinkName string) error
}

// RepairWorker drains the repair queue by re-running failed sinks from the event log.
type RepairWorker struct {
	repairQueue repair.Queue
	dispatcher  Rematerializer
	logger      *slog.Logger
	config      RepairWorkerConfig
}

// NewRepairWorker creates a new repair worker.
func NewRepairWorker(
	repairQueue repair.Queue,
	dispatcher Rematerializer,
	logger *slog.Logger,
	config RepairWorkerConfig,
) *RepairWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultRepairBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultRepairPollInterval
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultRepairMaxRetries
	}

	return &RepairWorker{
		repairQueue: repairQueue,
		dispatcher:  dispatcher,
		logger:      logger,
		config:      config,
	}
}

// Start runs the worker until ctx is cancelled.
func (w *RepairWorker) Start(ctx context.Context) error {
	if !w.config.Enabled {
		w.logger.InfoContext(ctx, "repair worker disabled")
		return nil
	}

	w.logger.InfoContext(ctx, "starting repair worker",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Int("batch_size", w.config.BatchSize),
		slog.Int("max_retries", w.config.MaxRetries),
	)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Process immediately on start
	w.ProcessBatch(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "repair worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch claims and processes one batch. Returns the number of tasks repaired.
func (w *RepairWorker) ProcessBatch(ctx context.Context) int {
	tasks, err := w.repairQueue.Claim(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to claim repair tasks",
			slog.String("error", err.Error()),
		)
		return 0
	}
	if len(tasks) == 0 {
		return 0
	}

	w.logger.InfoContext(ctx, "processing repair tasks", slog.Int("count", len(tasks)))

	repaired := 0
	for _, task := range tasks {
		if w.processTask(ctx, task) {
			repaired++
		}
	}
	return repaired
}

func (w *RepairWorker) processTask(ctx context.Context, task repair.Task) bool {
	log := w.logger.With(
		slog.String("task_id", task.ID),
		slog.String("stream_id", task.StreamID),
		slog.String("aggregate_type", task.AggregateType),
		slog.String("sink", task.Sink),
	)

	err := w.dispatcher.Rematerialize(ctx, task.AggregateType, task.StreamID, task.Sink)
	if err == nil {
		if completeErr := w.repairQueue.MarkCompleted(ctx, task.ID); completeErr != nil {
			log.ErrorContext(ctx, "failed to mark task as completed", slog.String("error", completeErr.Error()))
		}
		log.InfoContext(ctx, "sink repaired", slog.Int("attempts", task.Attempts))
		return true
	}

	log.ErrorContext(ctx, "repair attempt failed",
		slog.Int("attempts", task.Attempts),
		slog.String("error", err.Error()),
	)

	// незарегистрированный sink не починится повтором
	if errors.Is(err, materialize.ErrUnknownSink) || task.Attempts >= w.config.MaxRetries {
		log.WarnContext(ctx, "parking repair task as failed", slog.Int("attempts", task.Attempts))
		if markErr := w.repairQueue.MarkFailed(ctx, task.ID, err); markErr != nil {
			log.ErrorContext(ctx, "failed to mark task as failed", slog.String("error", markErr.Error()))
		}
		return false
	}

	if releaseErr := w.repairQueue.Release(ctx, task.ID, err); releaseErr != nil {
		log.ErrorContext(ctx, "failed to release repair task", slog.String("error", releaseErr.Error()))
	}
	return false
}

// GetStats returns repair queue statistics.
func (w *RepairWorker) GetStats(ctx context.Context) (*repair.QueueStats, error) {
	return w.repairQueue.GetStats(ctx)
}
