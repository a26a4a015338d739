// Package main provides the worker service entry point.
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
	cfg, err := config.Load()
	if err != nil {
		//nolint:sloglint // No context available before logger setup
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := setupLogger(cfg)

	logger.Info("starting estately worker service",
		slog.String("version", version),
		slog.String("environment", getEnvironment(cfg)),
		slog.String("event_store", cfg.EventStore.Backend),
		slog.String("event_bus", cfg.EventBus.Type),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    cfg.App.Name + "-worker",
		ServiceVersion: version,
		Environment:    cfg.App.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to init tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	w, err := NewWorker(ctx, cfg, WithLogger(logger))
	if err != nil {
		logger.Error("failed to build worker", slog.String("error", err.Error()))
		os.Exit(1) //nolint:gocritic // nothing to clean up yet
	}

	runErr := w.Run(ctx)
	if runErr != nil {
		logger.Error("worker error", slog.String("error", runErr.Error()))
	}
	if closeErr := w.Close(); closeErr != nil {
		logger.Error("worker close error", slog.String("error", closeErr.Error()))
	}

	tracerCtx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
	defer cancel()
	if tracerErr := shutdownTracer(tracerCtx); tracerErr != nil {
		logger.Error("tracer shutdown error", slog.String("error", tracerErr.Error()))
	}

	logger.Info("worker service shutdown complete")
	if runErr != nil {
		os.Exit(1)
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
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("service", cfg.App.Name+"-worker"))
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
