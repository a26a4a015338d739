// Package materialize pushes committed aggregate state into derived views.
//
// The event log is authoritative. Every sink is a disposable copy that can be
// rebuilt from it, so a failing sink never fails the append that triggered it:
// it is retried inline and then handed to the repair queue.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/infrastructure/metrics"
	"github.com/lllypuk/estately/internal/infrastructure/repair"
)

const (
	defaultSinkMaxTries     = 3
	defaultSinkInitialDelay = 50 * time.Millisecond
	defaultSinkTimeout      = 10 * time.Second
)

// ErrUnknownSink is returned by Rematerialize for an unregistered sink name.
var ErrUnknownSink = errors.New("unknown materialization sink")

// Materialization is the state of one stream right after a commit.
// Events is empty when the materialization is replayed by the repair worker.
type Materialization struct {
	StreamID      string
	AggregateType string
	Version       int
	State         any
	Events        []event.DomainEvent
}

// Sink receives materializations. Implementations must tolerate redelivery
// and out of order versions.
type Sink interface {
	Name() string
	Materialize(ctx context.Context, m Materialization) error
}

// StateProjector is the type-erased projector of one aggregate type.
type StateProjector interface {
	ProjectState(ctx context.Context, streamID string) (int, any, error)
}

// RepairQueue accepts failed materializations.
type RepairQueue interface {
	Add(ctx context.Context, task repair.Task) error
}

// Dispatcher fans committed events out to the sinks of their aggregate type.
type Dispatcher struct {
	mu         sync.RWMutex
	projectors map[string]StateProjector
	sinks      map[string][]Sink

	repair      RepairQueue
	metrics     *metrics.DispatcherMetrics
	logger      *slog.Logger
	maxTries    uint
	newBackOff  func() backoff.BackOff
	sinkTimeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRepairQueue sets the queue for sinks that keep failing.
func WithRepairQueue(q RepairQueue) Option {
	return func(d *Dispatcher) { d.repair = q }
}

// WithMetrics sets dispatcher metrics.
func WithMetrics(m *metrics.DispatcherMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithSinkRetry sets the inline retry budget of every sink.
func WithSinkRetry(maxTries uint, initial time.Duration) Option {
	return func(d *Dispatcher) {
		if maxTries > 0 {
			d.maxTries = maxTries
		}
		if initial > 0 {
			d.newBackOff = func() backoff.BackOff {
				b := backoff.NewExponentialBackOff()
				b.InitialInterval = initial
				return b
			}
		}
	}
}

// WithSinkTimeout bounds one sink call.
func WithSinkTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sinkTimeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher with no registered types.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		projectors: make(map[string]StateProjector),
		sinks:      make(map[string][]Sink),
		logger:     slog.Default(),
		maxTries:   defaultSinkMaxTries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = defaultSinkInitialDelay
			return b
		},
		sinkTimeout: defaultSinkTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register sets the projector of an aggregate type.
func (d *Dispatcher) Register(aggregateType string, projector StateProjector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.projectors[aggregateType] = projector
}

// AddSink attaches a sink to an aggregate type. Sinks run in the order added.
func (d *Dispatcher) AddSink(aggregateType string, sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[aggregateType] = append(d.sinks[aggregateType], sink)
}

// Sinks returns the sink names of an aggregate type.
func (d *Dispatcher) Sinks(aggregateType string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.sinks[aggregateType]))
	for _, s := range d.sinks[aggregateType] {
		names = append(names, s.Name())
	}
	return names
}

func (d *Dispatcher) route(aggregateType string) (StateProjector, []Sink) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.projectors[aggregateType], d.sinks[aggregateType]
}

// Dispatch implements eventsourcing.Dispatcher. The stream is projected once
// and every sink gets the same materialization. Never fails the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, streamID, aggregateType string, events []event.DomainEvent) {
	projector, sinks := d.route(aggregateType)
	if projector == nil || len(sinks) == 0 {
		return
	}

	// the append is durable, the caller going away must not stop materialization
	ctx = context.WithoutCancel(ctx)

	version, state, err := projector.ProjectState(ctx, streamID)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to project stream for materialization",
			slog.String("stream_id", streamID),
			slog.String("aggregate_type", aggregateType),
			slog.String("error", err.Error()),
		)
		for _, sink := range sinks {
			d.enqueueRepair(ctx, aggregateType, streamID, sink.Name(), lastVersion(events), err)
		}
		return
	}

	m := Materialization{
		StreamID:      streamID,
		AggregateType: aggregateType,
		Version:       version,
		State:         state,
		Events:        events,
	}
	for _, sink := range sinks {
		if sinkErr := d.run(ctx, sink, m); sinkErr != nil {
			d.logger.ErrorContext(ctx, "sink failed after retries",
				slog.String("stream_id", streamID),
				slog.String("aggregate_type", aggregateType),
				slog.String("sink", sink.Name()),
				slog.Int("version", version),
				slog.String("error", sinkErr.Error()),
			)
			d.enqueueRepair(ctx, aggregateType, streamID, sink.Name(), version, sinkErr)
		}
	}
}

// Rematerialize re-projects a stream and runs one sink. Used by the repair worker.
func (d *Dispatcher) Rematerialize(ctx context.Context, aggregateType, streamID, sinkName string) error {
	projector, sinks := d.route(aggregateType)
	if projector == nil {
		return fmt.Errorf("%w: no projector for %s", ErrUnknownSink, aggregateType)
	}

	var target Sink
	for _, s := range sinks {
		if s.Name() == sinkName {
			target = s
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: %s/%s", ErrUnknownSink, aggregateType, sinkName)
	}

	version, state, err := projector.ProjectState(ctx, streamID)
	if err != nil {
		d.countRematerialize(aggregateType, "error")
		return fmt.Errorf("failed to project %s: %w", streamID, err)
	}

	err = d.run(ctx, target, Materialization{
		StreamID:      streamID,
		AggregateType: aggregateType,
		Version:       version,
		State:         state,
	})
	if err != nil {
		d.countRematerialize(aggregateType, "error")
		return err
	}
	d.countRematerialize(aggregateType, "ok")
	return nil
}

func (d *Dispatcher) run(ctx context.Context, sink Sink, m Materialization) error {
	started := time.Now()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, d.sinkTimeout)
		defer cancel()
		return struct{}{}, sink.Materialize(callCtx, m)
	},
		backoff.WithBackOff(d.newBackOff()),
		backoff.WithMaxTries(d.maxTries),
		backoff.WithNotify(func(err error, delay time.Duration) {
			d.logger.DebugContext(ctx, "sink failed, retrying",
				slog.String("sink", sink.Name()),
				slog.String("stream_id", m.StreamID),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}),
	)
	if d.metrics != nil {
		d.metrics.ObserveSink(m.AggregateType, sink.Name(), time.Since(started), err)
	}
	return err
}

func (d *Dispatcher) enqueueRepair(ctx context.Context, aggregateType, streamID, sink string, version int, cause error) {
	if d.repair == nil {
		return
	}
	err := d.repair.Add(ctx, repair.Task{
		StreamID:      streamID,
		AggregateType: aggregateType,
		Sink:          sink,
		Version:       version,
		Error:         cause.Error(),
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to enqueue repair task",
			slog.String("stream_id", streamID),
			slog.String("sink", sink),
			slog.String("error", err.Error()),
		)
		return
	}
	if d.metrics != nil {
		d.metrics.RepairQueued.WithLabelValues(aggregateType, sink).Inc()
	}
}

func (d *Dispatcher) countRematerialize(aggregateType, status string) {
	if d.metrics != nil {
		d.metrics.Rematerialize.WithLabelValues(aggregateType, status).Inc()
	}
}

func lastVersion(events []event.DomainEvent) int {
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].Version()
}
