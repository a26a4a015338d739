// Package retry runs operations with bounded attempts and jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/lllypuk/estately/internal/application/appcore"
)

// Default policy values.
const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 200 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
	DefaultMaxElapsed      = time.Minute
)

// Policy bounds one scheduler.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		MaxElapsed:      DefaultMaxElapsed,
	}
}

// Observer receives per-attempt results.
type Observer interface {
	ObserveAttempt(operation string, err error)
	ObserveExhausted(operation string)
}

type noopObserver struct{}

func (noopObserver) ObserveAttempt(string, error) {}
func (noopObserver) ObserveExhausted(string)      {}

// Scheduler retries operations under a Policy.
type Scheduler struct {
	policy    Policy
	permanent func(error) bool
	observer  Observer
	logger    *slog.Logger
}

// Option configures Scheduler.
type Option func(*Scheduler)

// WithPermanent adds a classifier for errors that must not be retried.
// Validation errors are always permanent.
func WithPermanent(isPermanent func(error) bool) Option {
	return func(s *Scheduler) {
		s.permanent = isPermanent
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a scheduler. Zero policy fields fall back to the defaults.
func New(policy Policy, opts ...Option) *Scheduler {
	def := DefaultPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = def.InitialInterval
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = def.MaxInterval
	}
	if policy.MaxElapsed <= 0 {
		policy.MaxElapsed = def.MaxElapsed
	}

	s := &Scheduler{
		policy:    policy,
		permanent: func(error) bool { return false },
		observer:  noopObserver{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Do runs op until it succeeds, fails permanently, or the policy is exhausted.
// It returns the number of attempts made. Exhaustion wraps appcore.ErrRetriesExhausted
// and the last error; context cancellation returns the context error.
//
// MaxElapsed is a deadline over the whole run, attempts and waits included.
// A wait longer than the remaining budget is cut when the budget runs out.
func (s *Scheduler) Do(ctx context.Context, name string, op func(ctx context.Context) error) (int, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.policy.MaxElapsed)
	defer cancel()

	attempts := 0
	var lastErr error
	_, err := backoff.Retry(runCtx, func() (struct{}, error) {
		attempts++
		err := op(runCtx)
		if err != nil {
			lastErr = err
		}
		s.observer.ObserveAttempt(name, err)
		if err != nil && s.isPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.policy.MaxAttempts)),
		// срок задает runCtx; собственный лимит backoff обрывает ретраи до ожидания
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.DebugContext(ctx, "retrying operation",
				slog.String("operation", name),
				slog.Int("attempt", attempts),
				slog.Duration("next", next),
				slog.String("error", err.Error()),
			)
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	switch {
	case err == nil:
		return attempts, nil
	case ctx.Err() != nil:
		return attempts, ctx.Err()
	case s.isPermanent(err):
		return attempts, err
	case runCtx.Err() != nil && lastErr != nil:
		// бюджет времени исчерпан во время ожидания
		err = lastErr
	}

	s.observer.ObserveExhausted(name)
	s.logger.WarnContext(ctx, "operation retries exhausted",
		slog.String("operation", name),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
	return attempts, fmt.Errorf("%w: %s after %d attempts: %w", appcore.ErrRetriesExhausted, name, attempts, err)
}

func (s *Scheduler) isPermanent(err error) bool {
	return errors.Is(err, appcore.ErrValidationFailed) || s.permanent(err)
}

func (s *Scheduler) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.InitialInterval
	b.MaxInterval = s.policy.MaxInterval
	return b
}
