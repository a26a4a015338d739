package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/payment"
	"github.com/lllypuk/estately/internal/infrastructure/healthcheck"
	"github.com/lllypuk/estately/internal/infrastructure/materialize"
)

// Health check thresholds.
const (
	repairQueueThreshold = 10
	readModelSampleSize  = 50
	readModelMaxLagging  = 5
)

// Rebuild re-materializes every stream of aggregateType into one sink and
// returns the number of streams rebuilt. Failures do not stop the pass.
func (e *Engine) Rebuild(ctx context.Context, aggregateType, sink string) (int, error) {
	ids, err := e.EventStore.StreamIDs(ctx, aggregateType)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s streams: %w", aggregateType, err)
	}

	var (
		rebuilt int
		errs    []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if rmErr := e.Dispatcher.Rematerialize(ctx, aggregateType, id, sink); rmErr != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", aggregateType, id, rmErr))
			continue
		}
		rebuilt++
	}

	e.Logger.InfoContext(ctx, "rebuild finished",
		slog.String("aggregate_type", aggregateType),
		slog.String("sink", sink),
		slog.Int("streams", len(ids)),
		slog.Int("rebuilt", rebuilt),
	)
	return rebuilt, errors.Join(errs...)
}

// Warm fills process-local views from the event log. Views kept in MongoDB
// survive restarts and are left alone.
func (e *Engine) Warm(ctx context.Context) error {
	if !e.localViews {
		return nil
	}

	var errs []error
	for _, aggregateType := range AggregateTypes() {
		sinks := []string{materialize.SinkReadModel}
		if aggregateType == payment.AggregateType {
			sinks = append(sinks, materialize.SinkPaymentIndex)
		}
		for _, sink := range sinks {
			if _, err := e.Rebuild(ctx, aggregateType, sink); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// HealthCheckers returns the readiness checks of the engine.
func (e *Engine) HealthCheckers() []appcore.HealthChecker {
	var checkers []appcore.HealthChecker

	if e.Mongo != nil {
		checkers = append(checkers, appcore.HealthCheckFunc{
			CheckerName: "mongodb",
			Ping:        func(ctx context.Context) error { return e.Mongo.Ping(ctx, nil) },
		})
	}
	if e.Redis != nil {
		checkers = append(checkers, appcore.HealthCheckFunc{
			CheckerName: "redis",
			Ping:        func(ctx context.Context) error { return e.Redis.Ping(ctx).Err() },
		})
	}
	if e.SQL != nil {
		checkers = append(checkers, appcore.HealthCheckFunc{
			CheckerName: e.Config.EventStore.Backend,
			Ping:        e.SQL.Ping,
		})
	}
	if e.outboxStats != nil {
		checkers = append(checkers, healthcheck.NewOutboxBacklogChecker(e.outboxStats))
	}

	return append(checkers,
		healthcheck.NewRepairQueueChecker(e.RepairQueue, repairQueueThreshold),
		healthcheck.NewReadModelSyncChecker(
			e.ReadModels, e.EventStore, AggregateTypes(), readModelSampleSize, readModelMaxLagging,
		),
	)
}
