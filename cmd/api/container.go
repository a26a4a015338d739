// Package main provides the API server entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/bootstrap"
	"github.com/lllypuk/estately/internal/config"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/domain/payment"
	httphandler "github.com/lllypuk/estately/internal/handler/http"
	wshandler "github.com/lllypuk/estately/internal/handler/websocket"
	"github.com/lllypuk/estately/internal/infrastructure/eventbus"
	"github.com/lllypuk/estately/internal/infrastructure/healthcheck"
	"github.com/lllypuk/estately/internal/infrastructure/httpserver"
	"github.com/lllypuk/estately/internal/infrastructure/materialize"
	"github.com/lllypuk/estately/internal/infrastructure/queue"
	"github.com/lllypuk/estately/internal/infrastructure/webhook"
	"github.com/lllypuk/estately/internal/infrastructure/websocket"
	"github.com/lllypuk/estately/internal/middleware"
	"github.com/lllypuk/estately/internal/worker"
)

// Container initialization timeouts.
const (
	containerInitTimeout = 30 * time.Second
	deadLetterThreshold  = 0
	webhookLeeway        = 30 * time.Second
)

// Container holds the API dependencies and manages their lifecycle.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *prometheus.Registry
	Engine  *bootstrap.Engine

	// Live updates
	Hub *websocket.Hub
	// Relay rebroadcasts state committed by the worker. Nil unless webhooks
	// are processed out of process.
	Relay *eventbus.RedisEventBus

	// Webhook ingress
	Verifier     *webhook.JWTVerifier
	AsynqClient  *asynq.Client
	Inspector    *asynq.Inspector
	Callbacks    httphandler.CallbackQueue
	InlineQueue  *queue.InlineQueue
	ExpiryTicker *worker.ExpiryTicker

	RateLimitStore middleware.RateLimitStore

	// HTTP
	Server           *httpserver.Server
	Health           *httpserver.HealthEndpoints
	RecordHandler    *httphandler.RecordHandler
	AggregateHandler *httphandler.AggregateHandler
	PaymentHandler   *httphandler.PaymentHandler
	WebhookHandler   *httphandler.WebhookHandler
	WSHandler        *wshandler.Handler
}

// ContainerOption configures the Container.
type ContainerOption func(*Container)

// WithLogger sets a custom logger for the container.
func WithLogger(logger *slog.Logger) ContainerOption {
	return func(c *Container) {
		c.Logger = logger
	}
}

// WithMetricsRegistry replaces the registry served on /metrics.
func WithMetricsRegistry(registry *prometheus.Registry) ContainerOption {
	return func(c *Container) {
		c.Metrics = registry
	}
}

// NewContainer creates the dependency container.
func NewContainer(cfg *config.Config, opts ...ContainerOption) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Metrics == nil {
		c.Metrics = prometheus.NewRegistry()
		c.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), containerInitTimeout)
	defer cancel()

	c.Hub = websocket.NewHub(websocket.WithHubLogger(c.Logger))

	engine, err := bootstrap.New(ctx, cfg,
		bootstrap.WithLogger(c.Logger),
		bootstrap.WithRegisterer(c.Metrics),
		bootstrap.WithPublisher(c.Hub),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to setup engine: %w", err)
	}
	c.Engine = engine

	if warmErr := engine.Warm(ctx); warmErr != nil {
		c.Logger.WarnContext(ctx, "views were only partially rebuilt", slog.String("error", warmErr.Error()))
	}

	if err = c.setupWebhooks(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to setup webhooks: %w", err)
	}
	if err = c.setupRelay(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to setup relay: %w", err)
	}
	c.setupRateLimit()
	c.setupHTTPHandlers()

	if err = c.validateWiring(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("wiring validation failed: %w", err)
	}
	return c, nil
}

// asyncWebhooks reports whether callbacks are handed to the worker through
// asynq. Process-local views cannot be shared with a worker, so those setups
// reconcile in the API process.
func (c *Container) asyncWebhooks() bool {
	return c.Engine.Redis != nil && !c.Engine.HasLocalViews()
}

func (c *Container) setupWebhooks() error {
	var keys []webhook.ProviderKey
	for _, pc := range c.Config.Providers.All() {
		if pc.WebhookSecret == "" && pc.JWKSURL == "" {
			continue
		}
		keys = append(keys, webhook.ProviderKey{
			Provider: pc.Name,
			Secret:   pc.WebhookSecret,
			JWKSURL:  pc.JWKSURL,
		})
	}
	verifier, err := webhook.NewJWTVerifier(keys,
		webhook.WithLeeway(webhookLeeway),
		webhook.WithVerifierLogger(c.Logger),
	)
	if err != nil {
		return err
	}
	c.Verifier = verifier

	if c.asyncWebhooks() {
		c.AsynqClient = asynq.NewClient(bootstrap.AsynqRedis(c.Config.Redis))
		c.Inspector = asynq.NewInspector(bootstrap.AsynqRedis(c.Config.Redis))
		c.Callbacks = queue.NewAsynqQueue(c.AsynqClient, c.Inspector, c.Config.Worker.WebhookMaxRetry, c.Logger)
		c.Logger.Info("webhooks are reconciled by the worker")
		return nil
	}

	c.InlineQueue = queue.NewInlineQueue(c.Engine.Reconciler,
		c.Config.Worker.InlineWorkers, c.Config.Worker.InlineBuffer, c.Logger)
	c.Callbacks = c.InlineQueue
	c.ExpiryTicker = worker.NewExpiryTicker(c.Engine.Payments, c.Config.Payments.ExpirySweepInterval, c.Logger)
	c.Logger.Info("webhooks are reconciled in process")
	return nil
}

// setupRelay subscribes to payment events published by the worker's outbox
// and pushes the resulting state to websocket subscribers.
func (c *Container) setupRelay() error {
	if !c.asyncWebhooks() || c.Config.EventBus.Type != config.BusRedis {
		return nil
	}

	c.Relay = eventbus.NewRedisEventBus(c.Engine.Redis,
		eventbus.WithLogger(c.Logger),
		eventbus.WithChannelPrefix(c.Config.EventBus.RedisChannelPrefix),
	)

	paymentEvents := event.NewRegistry()
	payment.RegisterEvents(paymentEvents)

	dispatcher := c.Engine.Dispatcher
	return eventbus.SubscribeAll(c.Relay, paymentEvents.Types(), func(ctx context.Context, evt event.DomainEvent) error {
		return dispatcher.Rematerialize(ctx, evt.AggregateType(), evt.AggregateID(), materialize.SinkBroadcast)
	})
}

func (c *Container) setupRateLimit() {
	if !c.Config.RateLimit.Enabled {
		return
	}
	if c.Engine.Redis != nil {
		c.RateLimitStore = middleware.NewRedisRateLimitStore(c.Engine.Redis, c.Config.Cache.Prefix+"ratelimit:")
		return
	}
	c.RateLimitStore = middleware.NewMemoryRateLimitStore()
}

func (c *Container) setupHTTPHandlers() {
	e := c.Engine

	c.RecordHandler = httphandler.NewRecordHandler(e.Records, e.Queries)
	c.AggregateHandler = httphandler.NewAggregateHandler(e.Queries)
	c.PaymentHandler = httphandler.NewPaymentHandler(e.Payments)
	c.WebhookHandler = httphandler.NewWebhookHandler(c.Verifier, c.Callbacks, c.Logger)

	wsConfig := wshandler.DefaultHandlerConfig()
	wsConfig.ReadBufferSize = c.Config.WebSocket.ReadBufferSize
	wsConfig.WriteBufferSize = c.Config.WebSocket.WriteBufferSize
	wsConfig.ClientConfig.ReadBufferSize = c.Config.WebSocket.ReadBufferSize
	wsConfig.ClientConfig.WriteBufferSize = c.Config.WebSocket.WriteBufferSize
	wsConfig.ClientConfig.PingInterval = c.Config.WebSocket.PingInterval
	wsConfig.ClientConfig.PongWait = c.Config.WebSocket.PongTimeout
	c.WSHandler = wshandler.NewHandler(c.Hub,
		wshandler.WithHandlerConfig(wsConfig),
		wshandler.WithHandlerLogger(c.Logger),
	)

	checkers := e.HealthCheckers()
	checkers = append(checkers, appcore.HealthCheckFunc{
		CheckerName: "websocket_hub",
		Ping: func(context.Context) error {
			if !c.Hub.IsRunning() {
				return errors.New("hub not running")
			}
			return nil
		},
	})
	if e.Redis != nil {
		checkers = append(checkers, healthcheck.NewDeadLetterChecker(
			eventbus.NewDeadLetterStore(e.Redis, eventbus.WithDeadLetterLogger(c.Logger)),
			deadLetterThreshold,
		))
	}
	c.Health = httpserver.NewHealthEndpoints(checkers...)

	c.Server = httpserver.NewServer(httpserver.ServerConfig{
		Host:            c.Config.Server.Host,
		Port:            c.Config.Server.Port,
		ReadTimeout:     c.Config.Server.ReadTimeout,
		WriteTimeout:    c.Config.Server.WriteTimeout,
		ShutdownTimeout: c.Config.Server.ShutdownTimeout,
		BodyLimit:       c.Config.Server.BodyLimit,
	}, c.Logger)
}

// validateWiring ensures all required dependencies are properly initialized.
func (c *Container) validateWiring() error {
	var errs []error

	if c.Engine == nil {
		errs = append(errs, errors.New("engine not initialized"))
	}
	if c.Hub == nil {
		errs = append(errs, errors.New("websocket hub not initialized"))
	}
	if c.Callbacks == nil {
		errs = append(errs, errors.New("callback queue not initialized"))
	}
	if c.Verifier == nil {
		errs = append(errs, errors.New("webhook verifier not initialized"))
	}
	if c.RecordHandler == nil || c.AggregateHandler == nil || c.PaymentHandler == nil ||
		c.WebhookHandler == nil || c.WSHandler == nil {
		errs = append(errs, errors.New("http handlers not initialized"))
	}
	if c.Server == nil {
		errs = append(errs, errors.New("http server not initialized"))
	}

	return errors.Join(errs...)
}

// Echo returns the server's Echo instance.
func (c *Container) Echo() *echo.Echo {
	return c.Server.Echo()
}

// Run starts the background services and the HTTP server and blocks until ctx
// is cancelled or one of them fails.
func (c *Container) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.Hub.Run(ctx)
		return nil
	})
	if c.Relay != nil {
		g.Go(func() error { return ignoreCanceled(c.Relay.Start(ctx)) })
	}
	if c.InlineQueue != nil {
		g.Go(func() error { return ignoreCanceled(c.InlineQueue.Start(ctx)) })
	}
	if c.ExpiryTicker != nil {
		g.Go(func() error { return ignoreCanceled(c.ExpiryTicker.Run(ctx)) })
	}
	g.Go(func() error { return c.Server.Run(ctx) })

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close gracefully closes all container resources.
// Resources are closed in reverse order of initialization.
func (c *Container) Close() error {
	c.Logger.Info("closing container resources...")

	var errs []error

	if c.Relay != nil {
		if err := c.Relay.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("relay shutdown: %w", err))
		}
	}

	if c.AsynqClient != nil {
		if err := c.AsynqClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("asynq client close: %w", err))
		}
	}
	if c.Inspector != nil {
		if err := c.Inspector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("asynq inspector close: %w", err))
		}
	}

	// stops JWKS refresh
	if c.Verifier != nil {
		if err := c.Verifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("webhook verifier close: %w", err))
		}
	}

	// подписчики должны получить хвост буфера
	if c.Engine != nil {
		if err := c.Engine.Drain(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Hub != nil {
		c.Hub.Stop()
		c.Logger.Debug("websocket hub stopped")
	}

	if c.Engine != nil {
		if err := c.Engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.Logger.Info("all container resources closed")
	return nil
}
