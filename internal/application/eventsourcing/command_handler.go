package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/event"
)

const (
	defaultMaxAttempts     = 5
	defaultConflictBackoff = 10 * time.Millisecond
	defaultMaxBackoff      = 250 * time.Millisecond
)

// Decide computes the events a command produces against the current snapshot.
// Events must be numbered from snap.Version+1. Returning no events is a no-op.
// It may run more than once when the stream moves concurrently.
type Decide[S any] func(snap Snapshot[S]) ([]event.DomainEvent, error)

// Dispatcher receives committed events for materialization.
// Implementations must not fail the caller: the events are already durable.
type Dispatcher interface {
	Dispatch(ctx context.Context, streamID, aggregateType string, events []event.DomainEvent)
}

// Outcome is the result of Execute.
type Outcome[S any] struct {
	Snapshot Snapshot[S]
	Events   []event.DomainEvent
	Attempts int
}

// Changed reports whether the command appended events.
func (o Outcome[S]) Changed() bool {
	return len(o.Events) > 0
}

// CommandHandler serializes writers on a stream through expected-version appends.
// Callers never lock: they read, decide, append, and redo the cycle on conflict.
type CommandHandler[S any] struct {
	store       appcore.EventStore
	projector   *Projector[S]
	dispatcher  Dispatcher
	logger      *slog.Logger
	maxAttempts int
	newBackoff  func() backoff.BackOff
	tracer      trace.Tracer
}

// Option configures CommandHandler.
type Option func(*handlerOptions)

type handlerOptions struct {
	dispatcher  Dispatcher
	logger      *slog.Logger
	maxAttempts int
	newBackoff  func() backoff.BackOff
}

// WithDispatcher sets the dispatcher notified after every successful append.
func WithDispatcher(d Dispatcher) Option {
	return func(o *handlerOptions) {
		o.dispatcher = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *handlerOptions) {
		o.logger = logger
	}
}

// WithMaxAttempts bounds the read-decide-append cycle under contention.
func WithMaxAttempts(n int) Option {
	return func(o *handlerOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBackoff overrides the wait between conflicting attempts.
func WithBackoff(newBackoff func() backoff.BackOff) Option {
	return func(o *handlerOptions) {
		o.newBackoff = newBackoff
	}
}

// NewCommandHandler creates a command handler for one aggregate type.
func NewCommandHandler[S any](store appcore.EventStore, def Definition[S], opts ...Option) *CommandHandler[S] {
	o := handlerOptions{
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		newBackoff:  defaultConflictBackOff,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &CommandHandler[S]{
		store:       store,
		projector:   NewProjector(store, def),
		dispatcher:  o.dispatcher,
		logger:      o.logger,
		maxAttempts: o.maxAttempts,
		newBackoff:  o.newBackoff,
		tracer:      otel.Tracer("estately/eventsourcing"),
	}
}

func defaultConflictBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultConflictBackoff
	b.MaxInterval = defaultMaxBackoff
	return b
}

// Projector returns the projector used for reads.
func (h *CommandHandler[S]) Projector() *Projector[S] {
	return h.projector
}

// Load returns the current snapshot, or the empty snapshot for a new stream.
func (h *CommandHandler[S]) Load(ctx context.Context, streamID string) (Snapshot[S], error) {
	return h.projector.CatchUp(ctx, h.projector.Empty(streamID))
}

// Execute runs decide against the latest state and appends its events.
// On ErrConcurrencyConflict the whole cycle is retried up to the configured bound.
// Errors returned by decide are returned as is and never retried.
func (h *CommandHandler[S]) Execute(ctx context.Context, streamID string, decide Decide[S]) (Outcome[S], error) {
	ctx, span := h.tracer.Start(ctx, "eventsourcing.execute", trace.WithAttributes(
		attribute.String("aggregate.type", h.projector.AggregateType()),
		attribute.String("stream.id", streamID),
	))
	defer span.End()

	outcome, err := h.execute(ctx, streamID, decide)
	span.SetAttributes(attribute.Int("attempts", outcome.Attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (h *CommandHandler[S]) execute(ctx context.Context, streamID string, decide Decide[S]) (Outcome[S], error) {
	wait := h.newBackoff()
	var lastErr error

	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		snap, err := h.Load(ctx, streamID)
		if err != nil {
			return Outcome[S]{Attempts: attempt}, err
		}

		events, err := decide(snap)
		if err != nil {
			return Outcome[S]{Snapshot: snap, Attempts: attempt}, err
		}
		if len(events) == 0 {
			return Outcome[S]{Snapshot: snap, Attempts: attempt}, nil
		}

		_, err = h.store.SaveEvents(ctx, streamID, events, snap.Version)
		if err == nil {
			committed := h.projector.Fold(snap, events...)
			if h.dispatcher != nil {
				h.dispatcher.Dispatch(ctx, streamID, h.projector.AggregateType(), events)
			}
			return Outcome[S]{Snapshot: committed, Events: events, Attempts: attempt}, nil
		}
		if !errors.Is(err, appcore.ErrConcurrencyConflict) {
			return Outcome[S]{Snapshot: snap, Attempts: attempt}, err
		}

		lastErr = err
		delay := wait.NextBackOff()
		h.logger.DebugContext(ctx, "stream moved during command, retrying",
			slog.String("stream_id", streamID),
			slog.Int("attempt", attempt),
			slog.Int("expected_version", snap.Version),
			slog.Duration("delay", delay),
		)

		if attempt == h.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Outcome[S]{Attempts: attempt}, ctx.Err()
		case <-time.After(delay):
		}
	}

	h.logger.WarnContext(ctx, "giving up on contended stream",
		slog.String("stream_id", streamID),
		slog.Int("attempts", h.maxAttempts),
	)
	return Outcome[S]{Attempts: h.maxAttempts}, fmt.Errorf("after %d attempts: %w", h.maxAttempts, lastErr)
}
