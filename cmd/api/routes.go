// Package main provides the API server entry point.
package main

import (
	"github.com/lllypuk/estately/internal/infrastructure/httpserver"
	"github.com/lllypuk/estately/internal/middleware"
)

// SetupRoutes configures all API routes and middleware chains.
func SetupRoutes(c *Container) *httpserver.Router {
	routerConfig := httpserver.DefaultRouterConfig()
	routerConfig.Logger = c.Logger
	routerConfig.LoggingConfig.Logger = c.Logger
	routerConfig.RecoveryConfig.Logger = c.Logger

	if c.RateLimitStore != nil {
		routerConfig.RateLimitMiddleware = middleware.RateLimit(middleware.RateLimitConfig{
			Logger: c.Logger,
			Store:  c.RateLimitStore,
			Limit:  c.Config.RateLimit.Limit,
			Window: c.Config.RateLimit.Window,
		})
	}

	router := httpserver.NewRouter(c.Echo(), routerConfig)

	// /health, /ready and /health/details stay outside the limited groups
	router.RegisterHealthEndpoints(c.Health)
	router.RegisterMetricsEndpoint(c.Metrics)

	router.RegisterAll(
		c.RecordHandler,
		c.AggregateHandler,
		c.PaymentHandler,
		c.WebhookHandler,
		c.WSHandler,
	)

	router.PrintRoutes()
	return router
}
