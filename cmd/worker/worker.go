package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/lllypuk/estately/internal/bootstrap"
	"github.com/lllypuk/estately/internal/config"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/infrastructure/eventbus"
	"github.com/lllypuk/estately/internal/infrastructure/metrics"
	"github.com/lllypuk/estately/internal/infrastructure/queue"
	"github.com/lllypuk/estately/internal/worker"
)

const workerInitTimeout = 30 * time.Second

// ErrOutboxRequired is returned for backends that keep no outbox.
var ErrOutboxRequired = errors.New("worker needs a backend with an outbox (mongodb, sqlite or postgres)")

// Worker owns the background processes: the outbox pump, the repair queue,
// and, when callbacks are queued in Redis, the asynq task server.
type Worker struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry prometheus.Registerer
	Engine   *bootstrap.Engine

	Bus        event.Bus
	RedisBus   *eventbus.RedisEventBus
	KafkaBus   *eventbus.KafkaEventBus
	DeadLetter *eventbus.DeadLetterStore

	Outbox    *worker.OutboxWorker
	Repair    *worker.RepairWorker
	Tasks     *worker.WebhookServer
	Scheduler *asynq.Scheduler
}

// Option configures the Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.Logger = logger
	}
}

// WithRegisterer sets the registerer for worker metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(w *Worker) {
		w.Registry = reg
	}
}

// NewWorker wires the engine and the background processes.
func NewWorker(ctx context.Context, cfg *config.Config, opts ...Option) (*Worker, error) {
	if cfg.EventStore.Backend == config.StoreMemory {
		return nil, ErrOutboxRequired
	}

	w := &Worker{
		Config:   cfg,
		Logger:   slog.Default(),
		Registry: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(w)
	}

	initCtx, cancel := context.WithTimeout(ctx, workerInitTimeout)
	defer cancel()

	engine, err := bootstrap.New(initCtx, cfg,
		bootstrap.WithLogger(w.Logger),
		bootstrap.WithRegisterer(w.Registry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to setup engine: %w", err)
	}
	w.Engine = engine
	if engine.Outbox == nil {
		_ = w.Close()
		return nil, ErrOutboxRequired
	}

	if err = w.setupBus(); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to setup event bus: %w", err)
	}
	w.setupOutbox()
	w.setupRepair()
	if err = w.setupTasks(); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to setup task server: %w", err)
	}

	w.Logger.Info("worker wired",
		slog.Bool("outbox", w.Outbox != nil),
		slog.Bool("tasks", w.Tasks != nil),
		slog.Bool("dead_letter", w.DeadLetter != nil),
	)
	return w, nil
}

func (w *Worker) setupBus() error {
	e := w.Engine
	if e.Redis != nil {
		w.DeadLetter = eventbus.NewDeadLetterStore(e.Redis, eventbus.WithDeadLetterLogger(w.Logger))
	}

	switch w.Config.EventBus.Type {
	case config.BusRedis:
		if e.Redis == nil {
			return errors.New("redis event bus needs redis.addr")
		}
		w.RedisBus = eventbus.NewRedisEventBus(e.Redis,
			eventbus.WithLogger(w.Logger),
			eventbus.WithChannelPrefix(w.Config.EventBus.RedisChannelPrefix),
			eventbus.WithDeadLetter(w.DeadLetter),
		)
		// audit trail of everything the pump publishes
		audit := eventbus.NewAuditHandler(w.Logger)
		if err := eventbus.SubscribeAll(w.RedisBus, e.Registry.Types(), audit.Handle); err != nil {
			return err
		}
		w.Bus = w.RedisBus
	case config.BusKafka:
		w.KafkaBus = eventbus.NewKafkaEventBus(
			eventbus.NewKafkaWriter(w.Config.Kafka.Brokers, w.Config.Kafka.WriteTimeout),
			eventbus.WithTopicPrefix(w.Config.Kafka.TopicPrefix),
			eventbus.WithKafkaLogger(w.Logger),
		)
		w.Bus = w.KafkaBus
	default:
		w.Logger.Warn("no event bus configured, outbox entries stay pending")
	}
	return nil
}

func (w *Worker) setupOutbox() {
	if w.Bus == nil {
		return
	}

	cfg := worker.DefaultOutboxWorkerConfig()
	if w.Config.Worker.OutboxPollInterval > 0 {
		cfg.PollInterval = w.Config.Worker.OutboxPollInterval
	}
	if w.Config.Worker.OutboxBatchSize > 0 {
		cfg.BatchSize = w.Config.Worker.OutboxBatchSize
	}

	opts := []worker.OutboxOption{
		worker.WithOutboxMetrics(metrics.NewOutboxMetrics(w.Registry)),
		worker.WithOutboxLogger(w.Logger),
	}
	if w.DeadLetter != nil {
		opts = append(opts, worker.WithOutboxDeadLetter(w.DeadLetter))
	}
	w.Outbox = worker.NewOutboxWorker(w.Engine.Outbox, w.Bus, cfg, opts...)
}

func (w *Worker) setupRepair() {
	cfg := worker.DefaultRepairWorkerConfig()
	if w.Config.Worker.RepairPollInterval > 0 {
		cfg.PollInterval = w.Config.Worker.RepairPollInterval
	}
	w.Repair = worker.NewRepairWorker(w.Engine.RepairQueue, w.Engine.Dispatcher, w.Logger, cfg)
}

// setupTasks starts consuming queued callbacks only where the API enqueues
// them: Redis is up and the views are shared.
func (w *Worker) setupTasks() error {
	e := w.Engine
	if e.Redis == nil || e.HasLocalViews() {
		return nil
	}

	redisOpt := bootstrap.AsynqRedis(w.Config.Redis)
	handlers := worker.NewTaskHandlers(e.Reconciler, e.Payments, w.Logger)
	w.Tasks = worker.NewWebhookServer(redisOpt, handlers, worker.WebhookServerConfig{
		Concurrency: w.Config.Worker.WebhookConcurrency,
	}, w.Logger)

	scheduler, err := queue.NewExpiryScheduler(redisOpt, w.Config.Payments.ExpirySweepInterval, w.Logger)
	if err != nil {
		return err
	}
	w.Scheduler = scheduler
	return nil
}

// Run blocks until ctx is cancelled or a process fails.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if w.RedisBus != nil {
		g.Go(func() error { return ignoreCanceled(w.RedisBus.Start(ctx)) })
	}
	if w.Outbox != nil {
		g.Go(func() error { return ignoreCanceled(w.Outbox.Run(ctx)) })
	}
	if w.Repair != nil {
		g.Go(func() error { return ignoreCanceled(w.Repair.Start(ctx)) })
	}
	if w.Tasks != nil {
		g.Go(func() error { return w.Tasks.Run(ctx) })
	}
	if w.Scheduler != nil {
		g.Go(func() error {
			if err := w.Scheduler.Start(); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}
			<-ctx.Done()
			w.Scheduler.Shutdown()
			return nil
		})
	}

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the bus and the engine connections.
func (w *Worker) Close() error {
	var errs []error

	if w.RedisBus != nil {
		if err := w.RedisBus.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("redis bus shutdown: %w", err))
		}
	}
	if w.KafkaBus != nil {
		if err := w.KafkaBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka writer close: %w", err))
		}
	}
	if w.Engine != nil {
		if err := w.Engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
