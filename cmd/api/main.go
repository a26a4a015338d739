// Package main provides the API server entry point.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lllypuk/estately/internal/config"
	"github.com/lllypuk/estately/internal/infrastructure/telemetry"
)

const (
	version               = "0.1.0"
	tracerShutdownTimeout = 5 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		//nolint:sloglint // No context available before logger setup
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := setupLogger(cfg)

	logger.Info("starting estately API server",
		slog.String("version", version),
		slog.String("environment", getEnvironment(cfg)),
		slog.String("event_store", cfg.EventStore.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, tracerConfig(cfg))
	if err != nil {
		logger.Error("failed to init tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	container, err := NewContainer(cfg, WithLogger(logger))
	if err != nil {
		logger.Error("failed to build container", slog.String("error", err.Error()))
		os.Exit(1) //nolint:gocritic // nothing to clean up yet
	}

	SetupRoutes(container)

	runErr := container.Run(ctx)
	if runErr != nil {
		logger.Error("server error", slog.String("error", runErr.Error()))
	}

	if closeErr := container.Close(); closeErr != nil {
		logger.Error("container close error", slog.String("error", closeErr.Error()))
	}

	tracerCtx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
	defer cancel()
	if tracerErr := shutdownTracer(tracerCtx); tracerErr != nil {
		logger.Error("tracer shutdown error", slog.String("error", tracerErr.Error()))
	}

	logger.Info("server shutdown complete")
	if runErr != nil {
		os.Exit(1)
	}
}

func tracerConfig(cfg *config.Config) telemetry.TracerConfig {
	return telemetry.TracerConfig{
		ServiceName:    cfg.App.Name + "-api",
		ServiceVersion: version,
		Environment:    cfg.App.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}
}

// setupLogger creates and configures the structured logger based on configuration.
func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	level := parseLogLevel(cfg.Log.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.IsDevelopment(),
	}

	switch cfg.Log.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default: // "json" or any other value defaults to JSON
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("service", cfg.App.Name))
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnvironment returns the environment name based on configuration.
func getEnvironment(cfg *config.Config) string {
	if cfg.IsDevelopment() {
		return config.EnvDevelopment
	}
	if cfg.IsProduction() {
		return config.EnvProduction
	}
	return "unknown"
}
