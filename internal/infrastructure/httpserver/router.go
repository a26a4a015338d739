package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lllypuk/estately/internal/middleware"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger *slog.Logger

	// RateLimitMiddleware limits the API and webhook groups when set.
	RateLimitMiddleware echo.MiddlewareFunc

	CORSConfig     middleware.CORSConfig
	LoggingConfig  middleware.LoggingConfig
	RecoveryConfig middleware.RecoveryConfig

	// APIPrefix is the prefix for command and query routes. Default is "/api/v1".
	APIPrefix string
}

// DefaultRouterConfig returns a RouterConfig with sensible defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Logger:         slog.Default(),
		CORSConfig:     middleware.DefaultCORSConfig(),
		LoggingConfig:  middleware.DefaultLoggingConfig(),
		RecoveryConfig: middleware.DefaultRecoveryConfig(),
		APIPrefix:      "/api/v1",
	}
}

// Router manages HTTP route groups and middleware chains.
type Router struct {
	echo   *echo.Echo
	config RouterConfig
	logger *slog.Logger

	api      *echo.Group
	webhooks *echo.Group
	ws       *echo.Group
}

// NewRouter creates a new router with the given configuration.
func NewRouter(e *echo.Echo, config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.APIPrefix == "" {
		config.APIPrefix = "/api/v1"
	}

	r := &Router{
		echo:   e,
		config: config,
		logger: config.Logger,
	}

	// Recovery must be first to catch all panics
	e.Use(middleware.RecoveryWithConfig(r.config.RecoveryConfig))
	e.Use(middleware.Logging(r.config.LoggingConfig))
	e.Use(middleware.CORS(r.config.CORSConfig))

	var limited []echo.MiddlewareFunc
	if config.RateLimitMiddleware != nil {
		limited = append(limited, config.RateLimitMiddleware)
	}
	r.api = e.Group(config.APIPrefix, limited...)
	r.webhooks = e.Group("/webhooks", limited...)
	r.ws = e.Group("/ws")

	return r
}

// Echo returns the underlying Echo instance.
func (r *Router) Echo() *echo.Echo {
	return r.echo
}

// API returns the command and query group.
func (r *Router) API() *echo.Group {
	return r.api
}

// Webhooks returns the provider callback group.
func (r *Router) Webhooks() *echo.Group {
	return r.webhooks
}

// WS returns the websocket group.
func (r *Router) WS() *echo.Group {
	return r.ws
}

// RouteRegistrar defines the interface for registering routes.
type RouteRegistrar interface {
	RegisterRoutes(r *Router)
}

// RegisterAll registers all route registrars with the router.
func (r *Router) RegisterAll(registrars ...RouteRegistrar) {
	for _, registrar := range registrars {
		registrar.RegisterRoutes(r)
	}
}

// RegisterHealthEndpoints registers /health, /ready and /health/details.
func (r *Router) RegisterHealthEndpoints(endpoints *HealthEndpoints) {
	endpoints.Register(r.echo)
}

// RegisterMetricsEndpoint serves the metrics of gatherer on /metrics.
func (r *Router) RegisterMetricsEndpoint(gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// PrintRoutes logs all registered routes at debug level.
func (r *Router) PrintRoutes() {
	for _, route := range r.echo.Routes() {
		r.logger.Debug("registered route",
			slog.String("method", route.Method),
			slog.String("path", route.Path),
		)
	}
}
