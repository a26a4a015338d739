package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/infrastructure/metrics"
)

// Default outbox worker configuration values.
const (
	defaultOutboxPollInterval    = 100 * time.Millisecond
	defaultOutboxBatchSize       = 100
	defaultOutboxMaxRetries      = 5
	defaultOutboxCleanupAge      = 7 * 24 * time.Hour
	defaultOutboxCleanupInterval = time.Hour
)

// OutboxWorkerConfig contains configuration for the outbox worker.
type OutboxWorkerConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxRetries      int
	CleanupAge      time.Duration
	CleanupInterval time.Duration
	Enabled         bool
}

// DefaultOutboxWorkerConfig returns sensible default configuration.
func DefaultOutboxWorkerConfig() OutboxWorkerConfig {
	return OutboxWorkerConfig{
		PollInterval:    defaultOutboxPollInterval,
		BatchSize:       defaultOutboxBatchSize,
		MaxRetries:      defaultOutboxMaxRetries,
		CleanupAge:      defaultOutboxCleanupAge,
		CleanupInterval: defaultOutboxCleanupInterval,
		Enabled:         true,
	}
}

// DeadLetterSink receives entries the bus refused MaxRetries times.
type DeadLetterSink interface {
	Handle(ctx context.Context, evt event.DomainEvent, err error)
}

// OutboxWorker publishes committed events from the outbox to the event bus.
type OutboxWorker struct {
	outbox     appcore.Outbox
	eventBus   event.Bus
	logger     *slog.Logger
	config     OutboxWorkerConfig
	metrics    *metrics.OutboxMetrics
	deadLetter DeadLetterSink
}

// OutboxOption configures the worker.
type OutboxOption func(*OutboxWorker)

// WithOutboxMetrics records publication metrics.
func WithOutboxMetrics(m *metrics.OutboxMetrics) OutboxOption {
	return func(w *OutboxWorker) { w.metrics = m }
}

// WithOutboxDeadLetter keeps entries that exhausted their retries.
func WithOutboxDeadLetter(sink DeadLetterSink) OutboxOption {
	return func(w *OutboxWorker) { w.deadLetter = sink }
}

// WithOutboxLogger sets the logger.
func WithOutboxLogger(logger *slog.Logger) OutboxOption {
	return func(w *OutboxWorker) { w.logger = logger }
}

// NewOutboxWorker creates a new outbox worker.
func NewOutboxWorker(outbox appcore.Outbox, eventBus event.Bus, config OutboxWorkerConfig, opts ...OutboxOption) *OutboxWorker {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultOutboxPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultOutboxBatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultOutboxMaxRetries
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultOutboxCleanupInterval
	}
	if config.CleanupAge <= 0 {
		config.CleanupAge = defaultOutboxCleanupAge
	}

	w := &OutboxWorker{
		outbox:   outbox,
		eventBus: eventBus,
		logger:   slog.Default(),
		config:   config,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the outbox worker and runs until the context is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	if !w.config.Enabled {
		w.logger.InfoContext(ctx, "outbox worker is disabled")
		return nil
	}

	w.logger.InfoContext(ctx, "starting outbox worker",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Int("batch_size", w.config.BatchSize),
		slog.Int("max_retries", w.config.MaxRetries),
	)

	pollTicker := time.NewTicker(w.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(w.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "outbox worker stopped")
			return ctx.Err()

		case <-pollTicker.C:
			w.updateGaugeMetrics(ctx)
			if _, err := w.ProcessOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "failed to process outbox batch",
					slog.String("error", err.Error()),
				)
			}

		case <-cleanupTicker.C:
			deleted, err := w.outbox.Cleanup(ctx, w.config.CleanupAge)
			if err != nil {
				w.logger.ErrorContext(ctx, "failed to cleanup outbox",
					slog.String("error", err.Error()),
				)
			} else if w.metrics != nil && deleted > 0 {
				w.metrics.CleanupDeletedTotal.Add(float64(deleted))
			}
		}
	}
}

// ProcessOnce publishes one batch. Returns the number of entries published.
// Entries of one stream are published in version order; after a failure the
// rest of that stream's entries wait for the next batch.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (int, error) {
	entries, err := w.outbox.Poll(ctx, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to poll outbox: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if w.metrics != nil {
		w.metrics.PollBatchSize.Observe(float64(len(entries)))
	}

	var published, failed int
	blocked := make(map[string]bool)
	for _, entry := range entries {
		if blocked[entry.AggregateID] {
			continue
		}
		if processErr := w.processEntry(ctx, entry); processErr != nil {
			failed++
			blocked[entry.AggregateID] = true
			w.logger.WarnContext(ctx, "failed to publish outbox entry",
				slog.String("entry_id", entry.ID),
				slog.String("event_type", entry.EventType),
				slog.String("stream_id", entry.AggregateID),
				slog.String("error", processErr.Error()),
			)
			continue
		}
		published++
	}

	w.logger.DebugContext(ctx, "outbox batch completed",
		slog.Int("published", published),
		slog.Int("failed", failed),
	)
	return published, nil
}

func (w *OutboxWorker) processEntry(ctx context.Context, entry appcore.OutboxEntry) error {
	evt := newOutboxEvent(entry)

	if entry.RetryCount >= w.config.MaxRetries {
		w.logger.ErrorContext(ctx, "outbox entry exceeded max retries, dropping from outbox",
			slog.String("entry_id", entry.ID),
			slog.String("event_type", entry.EventType),
			slog.Int("retry_count", entry.RetryCount),
			slog.String("last_error", entry.LastError),
		)
		if w.deadLetter != nil {
			w.deadLetter.Handle(ctx, evt, errors.New(entry.LastError))
		}
		if err := w.outbox.MarkProcessed(ctx, entry.ID); err != nil {
			return err
		}
		w.countProcessed(entry.EventType, "failed")
		return nil
	}

	started := time.Now()
	if err := w.eventBus.Publish(ctx, evt); err != nil {
		if w.metrics != nil {
			w.metrics.RetryTotal.WithLabelValues(entry.EventType).Inc()
		}
		if markErr := w.outbox.MarkFailed(ctx, entry.ID, err); markErr != nil {
			w.logger.ErrorContext(ctx, "failed to mark outbox entry as failed",
				slog.String("entry_id", entry.ID),
				slog.String("error", markErr.Error()),
			)
		}
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if w.metrics != nil {
		w.metrics.PublishDuration.WithLabelValues(entry.EventType).Observe(time.Since(started).Seconds())
		w.metrics.ProcessingDuration.WithLabelValues(entry.EventType).Observe(time.Since(entry.CreatedAt).Seconds())
	}

	if err := w.outbox.MarkProcessed(ctx, entry.ID); err != nil {
		return fmt.Errorf("failed to mark entry as processed: %w", err)
	}
	w.countProcessed(entry.EventType, "success")
	return nil
}

func (w *OutboxWorker) countProcessed(eventType, status string) {
	if w.metrics != nil {
		w.metrics.EventsProcessed.WithLabelValues(eventType, status).Inc()
	}
}

func (w *OutboxWorker) updateGaugeMetrics(ctx context.Context) {
	if w.metrics == nil {
		return
	}

	count, oldest, err := w.outbox.Stats(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "failed to get outbox stats for metrics",
			slog.String("error", err.Error()),
		)
		return
	}

	w.metrics.EventsPending.Set(float64(count))
	if !oldest.IsZero() && count > 0 {
		w.metrics.OldestEventAge.Set(time.Since(oldest).Seconds())
	} else {
		w.metrics.OldestEventAge.Set(0)
	}
}

// outboxEvent is an event rebuilt from an outbox entry; its payload is published as is.
type outboxEvent struct {
	event.BaseEvent

	payload json.RawMessage
}

func newOutboxEvent(entry appcore.OutboxEntry) *outboxEvent {
	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = entry.CreatedAt
	}
	return &outboxEvent{
		BaseEvent: event.NewBaseEventAt(
			entry.EventType, entry.AggregateID, entry.AggregateType,
			entry.Version, occurredAt, entry.Metadata,
		),
		payload: entry.Payload,
	}
}

// Payload returns the raw JSON payload of the event.
func (e *outboxEvent) Payload() json.RawMessage { return e.payload }
