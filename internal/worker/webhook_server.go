package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	apppayment "github.com/lllypuk/estately/internal/application/payment"
	"github.com/lllypuk/estately/internal/infrastructure/queue"
)

const (
	defaultWebhookConcurrency = 10
	defaultShutdownTimeout    = 10 * time.Second
)

// ExpirySweeper expires payments whose intent lapsed.
type ExpirySweeper interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// TaskHandlers processes queued webhook and maintenance tasks.
type TaskHandlers struct {
	reconciler queue.Reconciler
	sweeper    ExpirySweeper
	logger     *slog.Logger
	now        func() time.Time
}

// NewTaskHandlers creates the handlers. sweeper may be nil when expiry is disabled.
func NewTaskHandlers(reconciler queue.Reconciler, sweeper ExpirySweeper, logger *slog.Logger) *TaskHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandlers{reconciler: reconciler, sweeper: sweeper, logger: logger, now: time.Now}
}

// Mux routes task types to handlers.
func (h *TaskHandlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeWebhookReconcile, h.ProcessReconcile)
	if h.sweeper != nil {
		mux.HandleFunc(queue.TypePaymentsExpire, h.ProcessExpire)
	}
	return mux
}

// ProcessReconcile handles a webhook:reconcile task. Malformed payloads and
// permanent failures skip asynq retries; everything else is redelivered.
func (h *TaskHandlers) ProcessReconcile(ctx context.Context, t *asynq.Task) error {
	cb, err := queue.DecodeReconcileTask(t)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	rec, err := h.reconciler.Reconcile(ctx, cb)
	if err != nil {
		if apppayment.IsPermanent(err) {
			h.logger.WarnContext(ctx, "callback dropped",
				slog.String("provider_ref", cb.ProviderRef),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	h.logger.InfoContext(ctx, "callback reconciled",
		slog.String("provider", cb.Provider),
		slog.String("provider_ref", cb.ProviderRef),
		slog.String("payment_id", rec.PaymentID),
		slog.String("outcome", string(rec.Outcome)),
	)
	return nil
}

// ProcessExpire handles a payments:expire task.
func (h *TaskHandlers) ProcessExpire(ctx context.Context, _ *asynq.Task) error {
	expired, err := h.sweeper.ExpireDue(ctx, h.now())
	if err != nil {
		return fmt.Errorf("expiry sweep failed: %w", err)
	}
	if expired > 0 {
		h.logger.InfoContext(ctx, "expired lapsed payments", slog.Int("count", expired))
	}
	return nil
}

// WebhookServerConfig configures the asynq server.
type WebhookServerConfig struct {
	Concurrency     int
	ShutdownTimeout time.Duration
}

// WebhookServer consumes queued callbacks from Redis.
type WebhookServer struct {
	server   *asynq.Server
	handlers *TaskHandlers
	logger   *slog.Logger
}

// NewWebhookServer creates the server.
func NewWebhookServer(redis asynq.RedisConnOpt, handlers *TaskHandlers, cfg WebhookServerConfig, logger *slog.Logger) *WebhookServer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultWebhookConcurrency
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	server := asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			queue.QueueWebhooks:    6,
			queue.QueueMaintenance: 1,
		},
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          &asynqLogger{logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.ErrorContext(ctx, "task failed",
				slog.String("type", t.Type()),
				slog.Int("retried", retried),
				slog.Int("max_retry", maxRetry),
				slog.String("error", err.Error()),
			)
		}),
	})

	return &WebhookServer{server: server, handlers: handlers, logger: logger}
}

// Run processes tasks until ctx is cancelled.
func (s *WebhookServer) Run(ctx context.Context) error {
	if err := s.server.Start(s.handlers.Mux()); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}
	s.logger.InfoContext(ctx, "task server started")

	<-ctx.Done()
	s.server.Shutdown()
	s.logger.InfoContext(ctx, "task server stopped")
	return nil
}

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct {
	logger *slog.Logger
}

func (l *asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...any) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
