// Package bootstrap wires the event-sourced engine shared by the API server,
// the worker and the maintenance tools.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/application/eventsourcing"
	apppayment "github.com/lllypuk/estately/internal/application/payment"
	"github.com/lllypuk/estately/internal/application/query"
	apprecord "github.com/lllypuk/estately/internal/application/record"
	"github.com/lllypuk/estately/internal/config"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/domain/payment"
	"github.com/lllypuk/estately/internal/domain/record"
	"github.com/lllypuk/estately/internal/infrastructure/cache"
	"github.com/lllypuk/estately/internal/infrastructure/eventstore"
	"github.com/lllypuk/estately/internal/infrastructure/eventstore/sqlstore"
	"github.com/lllypuk/estately/internal/infrastructure/materialize"
	"github.com/lllypuk/estately/internal/infrastructure/metrics"
	mongodbinfra "github.com/lllypuk/estately/internal/infrastructure/mongodb"
	"github.com/lllypuk/estately/internal/infrastructure/outbox"
	"github.com/lllypuk/estately/internal/infrastructure/provider"
	"github.com/lllypuk/estately/internal/infrastructure/repair"
	"github.com/lllypuk/estately/internal/infrastructure/repository/memory"
	"github.com/lllypuk/estately/internal/infrastructure/repository/mongodb"
	"github.com/lllypuk/estately/internal/infrastructure/retry"
	"github.com/lllypuk/estately/internal/infrastructure/webhook"
)

// Engine initialization timeouts.
const (
	initTimeout            = 30 * time.Second
	redisPingTimeout       = 5 * time.Second
	mongoDisconnectTimeout = 10 * time.Second
	dispatchDrainTimeout   = 10 * time.Second
)

// ReadModelStore keeps the queryable views of every stream.
type ReadModelStore interface {
	materialize.ReadModelWriter
	query.Lister
}

// Metrics groups the engine collectors. They are registered once per Engine.
type Metrics struct {
	Dispatcher *metrics.DispatcherMetrics
	Retry      *metrics.RetryMetrics
	Providers  *metrics.ProviderMetrics
	Saga       *metrics.SagaMetrics
}

// Engine holds the event store, the derived stores and the services built on them.
type Engine struct {
	Config     *config.Config
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	Metrics    Metrics

	// Connections
	Mongo   *mongo.Client
	MongoDB *mongo.Database
	Redis   *redis.Client
	SQL     *sqlstore.Store

	// Event log
	Registry   *event.Registry
	Serializer *eventstore.EventSerializer
	EventStore appcore.EventStore
	// Outbox is nil for the memory backend.
	Outbox      appcore.Outbox
	outboxStats outboxStats

	// Derived stores
	Cache        cache.StateCache
	ReadModels   ReadModelStore
	PaymentIndex apppayment.PaymentIndex
	FeeLedger    materialize.FeeSettler
	Dedupe       apppayment.DedupeStore
	RepairQueue  repair.Queue

	// Services
	Dispatcher *materialize.Dispatcher
	// Async is nil when commits are materialized synchronously.
	Async      *materialize.AsyncDispatcher
	Providers  *apppayment.ProviderRegistry
	Retry      *retry.Scheduler
	Records    *apprecord.Service
	Payments   *apppayment.Saga
	Reconciler *apppayment.Reconciler
	Queries    *query.Service

	publisher  materialize.Publisher
	localViews bool
}

type outboxStats interface {
	Stats(ctx context.Context) (int64, time.Time, error)
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.Logger = logger
	}
}

// WithRegisterer sets the prometheus registerer. Defaults to the global one.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(e *Engine) {
		e.Registerer = r
	}
}

// WithPublisher adds the broadcast sink, delivering state to live subscribers.
func WithPublisher(p materialize.Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// New connects the configured backends and builds the engine.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		Config:     cfg,
		Logger:     slog.Default(),
		Registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(e)
	}

	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	if err := e.setupConnections(ctx); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to setup connections: %w", err)
	}
	e.setupRegistry()
	if err := e.setupEventStore(ctx); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to setup event store: %w", err)
	}
	e.setupMetrics()
	e.setupDerivedStores()
	e.setupDispatcher()
	if err := e.setupProviders(); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to setup providers: %w", err)
	}
	e.setupRecords()
	e.setupPayments()
	e.setupQueries()

	if err := e.validateWiring(); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("wiring validation failed: %w", err)
	}

	e.Logger.InfoContext(ctx, "engine initialized",
		slog.String("event_store", cfg.EventStore.Backend),
		slog.String("cache", cfg.Cache.Backend),
		slog.Bool("local_views", e.localViews),
		slog.Bool("broadcast", e.publisher != nil),
	)
	return e, nil
}

// AggregateTypes returns every materialized aggregate type.
func AggregateTypes() []string {
	kinds := record.Kinds()
	types := make([]string, 0, len(kinds)+1)
	for _, kind := range kinds {
		types = append(types, kind.String())
	}
	return append(types, payment.AggregateType)
}

// AsynqRedis returns the asynq connection options of the configured Redis.
func AsynqRedis(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
}

func (e *Engine) setupConnections(ctx context.Context) error {
	if e.Config.EventStore.Backend == config.StoreMongoDB {
		if err := e.setupMongoDB(ctx); err != nil {
			return fmt.Errorf("mongodb: %w", err)
		}
	}
	if e.Config.Redis.Enabled() {
		if err := e.setupRedis(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (e *Engine) setupMongoDB(ctx context.Context) error {
	clientOpts := options.Client().
		ApplyURI(e.Config.MongoDB.URI).
		SetMaxPoolSize(e.Config.MongoDB.MaxPoolSize)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	e.Mongo = client

	pingCtx, cancel := context.WithTimeout(ctx, e.Config.MongoDB.Timeout)
	defer cancel()
	if pingErr := client.Ping(pingCtx, nil); pingErr != nil {
		return fmt.Errorf("failed to ping: %w", pingErr)
	}

	e.MongoDB = client.Database(e.Config.MongoDB.Database)
	e.Logger.InfoContext(ctx, "connected to MongoDB", slog.String("database", e.Config.MongoDB.Database))

	indexCtx, indexCancel := context.WithTimeout(ctx, e.Config.MongoDB.Timeout)
	defer indexCancel()
	if indexErr := mongodbinfra.EnsureIndexes(indexCtx, e.MongoDB, AggregateTypes()...); indexErr != nil {
		return fmt.Errorf("failed to create indexes: %w", indexErr)
	}
	e.Logger.DebugContext(ctx, "MongoDB indexes ensured")
	return nil
}

func (e *Engine) setupRedis(ctx context.Context) error {
	e.Redis = redis.NewClient(&redis.Options{
		Addr:     e.Config.Redis.Addr,
		Password: e.Config.Redis.Password,
		DB:       e.Config.Redis.DB,
		PoolSize: e.Config.Redis.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := e.Redis.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}

	e.Logger.InfoContext(ctx, "connected to Redis", slog.String("addr", e.Config.Redis.Addr))
	return nil
}

func (e *Engine) setupRegistry() {
	e.Registry = event.NewRegistry()
	payment.RegisterEvents(e.Registry)
	record.RegisterEvents(e.Registry)
	e.Serializer = eventstore.NewEventSerializer(e.Registry)
}

func (e *Engine) setupEventStore(ctx context.Context) error {
	switch e.Config.EventStore.Backend {
	case config.StoreMongoDB:
		mongoOutbox := outbox.NewMongoOutbox(
			e.MongoDB.Collection(mongodbinfra.CollectionOutbox),
			e.Serializer,
			outbox.WithLogger(e.Logger),
		)
		e.Outbox = mongoOutbox
		e.outboxStats = mongoOutbox
		e.EventStore = eventstore.NewMongoEventStore(
			e.Mongo,
			e.MongoDB.Collection(mongodbinfra.CollectionEvents),
			e.Serializer,
			eventstore.WithLogger(e.Logger),
			eventstore.WithOutbox(mongoOutbox),
		)

	case config.StoreSQLite, config.StorePostgres:
		open := sqlstore.OpenSQLite
		if e.Config.EventStore.Backend == config.StorePostgres {
			open = sqlstore.OpenPostgres
		}
		store, err := open(ctx, e.Config.SQL.DSN, e.Serializer,
			sqlstore.WithLogger(e.Logger),
			sqlstore.WithOutbox(true),
			sqlstore.WithMaxOpenConns(e.Config.SQL.MaxOpenConns),
		)
		if err != nil {
			return err
		}
		e.SQL = store
		e.EventStore = store
		e.Outbox = store
		e.outboxStats = store

	case config.StoreMemory:
		e.EventStore = eventstore.NewInMemoryEventStore()

	default:
		return fmt.Errorf("%w: %q", config.ErrInvalidStoreBackend, e.Config.EventStore.Backend)
	}

	e.Logger.DebugContext(ctx, "event store initialized",
		slog.String("backend", e.Config.EventStore.Backend),
		slog.Bool("outbox", e.Outbox != nil),
	)
	return nil
}

func (e *Engine) setupMetrics() {
	e.Metrics = Metrics{
		Dispatcher: metrics.NewDispatcherMetrics(e.Registerer),
		Retry:      metrics.NewRetryMetrics(e.Registerer),
		Providers:  metrics.NewProviderMetrics(e.Registerer),
		Saga:       metrics.NewSagaMetrics(e.Registerer),
	}
}

// setupDerivedStores keeps views next to the event log when it lives in
// MongoDB. Other backends hold them in process and rebuild them on start.
func (e *Engine) setupDerivedStores() {
	if e.Config.Cache.Backend == config.CacheRedis && e.Redis != nil {
		e.Cache = cache.NewRedisStateCache(e.Redis, e.Config.Cache.Prefix, e.Config.Cache.TTL)
	} else {
		e.Cache = cache.NewMemoryStateCache(e.Config.Cache.TTL)
	}

	if e.Redis != nil {
		e.Dedupe = webhook.NewRedisDedupeStore(e.Redis, e.Config.Cache.Prefix+"dedupe:", e.Config.Worker.DedupeTTL)
	} else {
		e.Dedupe = webhook.NewMemoryDedupeStore(e.Config.Worker.DedupeTTL)
	}

	if e.MongoDB != nil {
		e.ReadModels = mongodb.NewMongoReadModelStore(e.MongoDB, e.Logger)
		e.PaymentIndex = mongodb.NewMongoPaymentIndex(e.MongoDB.Collection(mongodbinfra.CollectionPaymentIndex))
		e.FeeLedger = mongodb.NewMongoFeeLedger(e.MongoDB.Collection(mongodbinfra.CollectionFeeSettlements), e.Logger)
		e.RepairQueue = repair.NewMongoQueue(e.MongoDB.Collection(mongodbinfra.CollectionRepairQueue), e.Logger)
		return
	}

	e.localViews = true
	e.ReadModels = memory.NewReadModels()
	e.PaymentIndex = memory.NewPaymentIndex()
	e.FeeLedger = memory.NewFeeLedger()
	e.RepairQueue = repair.NewMemoryQueue()
}

func (e *Engine) setupDispatcher() {
	e.Dispatcher = materialize.NewDispatcher(
		materialize.WithRepairQueue(e.RepairQueue),
		materialize.WithMetrics(e.Metrics.Dispatcher),
		materialize.WithLogger(e.Logger),
	)

	for _, aggregateType := range AggregateTypes() {
		e.Dispatcher.AddSink(aggregateType, materialize.NewCacheSink(e.Cache))
		e.Dispatcher.AddSink(aggregateType, materialize.NewReadModelSink(e.ReadModels))
		if e.publisher != nil {
			e.Dispatcher.AddSink(aggregateType, materialize.NewBroadcastSink(e.publisher))
		}
	}

	e.Dispatcher.AddSink(payment.AggregateType, materialize.NewPaymentIndexSink(e.PaymentIndex))
	e.Dispatcher.AddSink(payment.AggregateType, materialize.NewPaymentEffectsSink(
		e.FeeLedger,
		materialize.NewLogNotifier(e.Logger, e.Dedupe),
	))

	if w := e.Config.Worker; w.DispatchWorkers > 0 {
		e.Async = materialize.NewAsyncDispatcher(e.Dispatcher, w.DispatchWorkers, w.DispatchBuffer)
	}
}

func (e *Engine) setupProviders() error {
	adapters := make(map[payment.Method]apppayment.ProviderAdapter)
	for method, pc := range e.Config.Providers.All() {
		adapter, err := e.newProvider(payment.Method(method), pc)
		if err != nil {
			return err
		}
		adapters[payment.Method(method)] = adapter
	}
	e.Providers = apppayment.NewProviderRegistry(adapters)

	p := e.Config.Payments.Retry
	e.Retry = retry.New(
		retry.Policy{
			MaxAttempts:     p.MaxAttempts,
			InitialInterval: p.InitialInterval,
			MaxInterval:     p.MaxInterval,
			MaxElapsed:      p.MaxElapsed,
		},
		retry.WithPermanent(apppayment.IsPermanent),
		retry.WithObserver(e.Metrics.Retry),
		retry.WithLogger(e.Logger),
	)
	return nil
}

func (e *Engine) newProvider(method payment.Method, pc config.ProviderConfig) (apppayment.ProviderAdapter, error) {
	if pc.Sandbox {
		e.Logger.Warn("using sandbox payment provider", slog.String("method", string(method)))
		return provider.NewSandbox(pc.Name, apppayment.VerifySucceeded), nil
	}

	cfg := provider.Config{
		BaseURL:   pc.BaseURL,
		APIKey:    pc.APIKey,
		Timeout:   pc.Timeout,
		RateLimit: pc.RateLimit,
		Burst:     pc.Burst,
	}
	observer := provider.WithObserver(e.Metrics.Providers)

	switch method {
	case payment.MethodMobileMoney:
		return provider.NewMobileMoney(cfg, observer), nil
	case payment.MethodCard:
		return provider.NewCard(cfg, observer), nil
	case payment.MethodBankTransfer:
		return provider.NewBankTransfer(cfg, observer), nil
	default:
		return nil, fmt.Errorf("%w: %s", payment.ErrUnsupportedMethod, method)
	}
}

func (e *Engine) handlerOptions() []eventsourcing.Option {
	var dispatcher eventsourcing.Dispatcher = e.Dispatcher
	if e.Async != nil {
		dispatcher = e.Async
	}
	return []eventsourcing.Option{
		eventsourcing.WithDispatcher(dispatcher),
		eventsourcing.WithLogger(e.Logger),
		eventsourcing.WithMaxAttempts(e.Config.Payments.ConcurrencyAttempts),
	}
}

func (e *Engine) setupRecords() {
	e.Records = apprecord.NewService(e.EventStore, e.Logger, e.handlerOptions()...)
	for kind, projector := range e.Records.Projectors() {
		e.Dispatcher.Register(kind.String(), cache.NewReadThrough(projector, e.Cache, e.Logger))
	}
}

func (e *Engine) setupPayments() {
	handler := eventsourcing.NewCommandHandler[payment.State](e.EventStore, payment.Definition{}, e.handlerOptions()...)
	e.Dispatcher.Register(payment.AggregateType, cache.NewReadThrough(handler.Projector(), e.Cache, e.Logger))

	fees := e.Config.Payments.Fees
	flat := make(map[payment.Method]int64, len(fees.ProviderFlat))
	for method, amount := range fees.ProviderFlat {
		flat[payment.Method(method)] = amount
	}

	e.Payments = apppayment.NewSaga(handler, e.Providers, e.Retry,
		apppayment.WithExpiryHorizon(e.Config.Payments.ExpiryHorizon),
		apppayment.WithFeePolicy(apppayment.PercentageFees{
			PlatformBPS:   fees.PlatformBPS,
			ProcessingBPS: fees.ProcessingBPS,
			ProviderFlat:  flat,
		}),
		apppayment.WithIndex(e.PaymentIndex),
		apppayment.WithSagaMetrics(e.Metrics.Saga),
		apppayment.WithSagaLogger(e.Logger),
	)
	e.Reconciler = apppayment.NewReconciler(e.Payments, e.PaymentIndex, e.Dedupe, e.Retry, e.Logger)
}

func (e *Engine) setupQueries() {
	e.Queries = query.NewService(query.WithLister(e.ReadModels))
	for kind, projector := range e.Records.Projectors() {
		e.Queries.Register(kind.String(), cache.NewReadThrough(projector, e.Cache, e.Logger))
	}
	paymentProjector := eventsourcing.NewProjector[payment.State](e.EventStore, payment.Definition{})
	e.Queries.Register(payment.AggregateType, cache.NewReadThrough(paymentProjector, e.Cache, e.Logger))
}

func (e *Engine) validateWiring() error {
	var errs []error
	if e.EventStore == nil {
		errs = append(errs, errors.New("event store not initialized"))
	}
	if e.Dispatcher == nil {
		errs = append(errs, errors.New("dispatcher not initialized"))
	}
	if e.Payments == nil || e.Reconciler == nil {
		errs = append(errs, errors.New("payment saga not initialized"))
	}
	if e.Records == nil || e.Queries == nil {
		errs = append(errs, errors.New("record services not initialized"))
	}
	if e.Config.IsProduction() && e.localViews {
		e.Logger.Warn("derived views are process-local; run a single API instance")
	}
	return errors.Join(errs...)
}

// HasLocalViews reports whether the derived stores live in process memory.
func (e *Engine) HasLocalViews() bool {
	return e.localViews
}

// Drain waits for commits still queued for materialization. Commits
// dispatched afterwards go straight to the repair queue.
func (e *Engine) Drain() error {
	if e.Async == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchDrainTimeout)
	defer cancel()
	if err := e.Async.Close(ctx); err != nil {
		return fmt.Errorf("materialization drain: %w", err)
	}
	return nil
}

// Close releases every connection. Nil-safe on a partially built engine.
func (e *Engine) Close() error {
	var errs []error

	// дочитать буфер материализации до закрытия хранилищ
	if err := e.Drain(); err != nil {
		errs = append(errs, err)
	}

	if e.SQL != nil {
		if err := e.SQL.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sql store close: %w", err))
		}
	}

	if e.Redis != nil {
		if err := e.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		} else {
			e.Logger.Debug("redis connection closed")
		}
	}

	if e.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		defer cancel()
		if err := e.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect: %w", err))
		} else {
			e.Logger.Debug("mongodb connection closed")
		}
	}

	return errors.Join(errs...)
}
