package worker

import (
	"context"
	"log/slog"
	"time"
)

const defaultExpiryInterval = time.Minute

// ExpiryTicker sweeps expired payments on a fixed interval. It stands in for
// the asynq scheduler when webhooks are reconciled in-process.
type ExpiryTicker struct {
	sweeper  ExpirySweeper
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewExpiryTicker creates the ticker.
func NewExpiryTicker(sweeper ExpirySweeper, interval time.Duration, logger *slog.Logger) *ExpiryTicker {
	if interval <= 0 {
		interval = defaultExpiryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryTicker{sweeper: sweeper, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps until ctx is cancelled.
func (t *ExpiryTicker) Run(ctx context.Context) error {
	t.logger.InfoContext(ctx, "starting expiry ticker", slog.Duration("interval", t.interval))

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "expiry ticker stopped")
			return ctx.Err()
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of expired payments.
func (t *ExpiryTicker) Sweep(ctx context.Context) int {
	expired, err := t.sweeper.ExpireDue(ctx, t.now().UTC())
	if err != nil {
		t.logger.ErrorContext(ctx, "expiry sweep failed", slog.String("error", err.Error()))
		return expired
	}
	if expired > 0 {
		t.logger.InfoContext(ctx, "expired payments", slog.Int("count", expired))
	}
	return expired
}
