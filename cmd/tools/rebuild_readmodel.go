package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lllypuk/estately/internal/bootstrap"
	"github.com/lllypuk/estately/internal/config"
	"github.com/lllypuk/estately/internal/infrastructure/healthcheck"
	"github.com/lllypuk/estately/internal/infrastructure/materialize"
)

const verifySampleSize = 1000

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	types := strings.Join(bootstrap.AggregateTypes(), ", ")

	aggregateType := flag.String("type", "", "Aggregate type ("+types+")")
	aggregateID := flag.String("id", "", "Stream ID (optional, omit for --all)")
	sink := flag.String("sink", materialize.SinkReadModel, "Sink to rematerialize")
	all := flag.Bool("all", false, "Rebuild every stream of the type")
	verify := flag.Bool("verify", false, "Compare read model versions with the log instead of rebuilding")
	reportFile := flag.String("report", "", "File to write the verification report to (only with --verify)")

	flag.Parse()

	if !*verify {
		if *aggregateType == "" {
			logger.Error("type is required", slog.String("valid_values", types))
			flag.Usage()
			os.Exit(1)
		}
		if !slices.Contains(bootstrap.AggregateTypes(), *aggregateType) {
			logger.Error("invalid type", slog.String("type", *aggregateType), slog.String("valid_values", types))
			os.Exit(1)
		}
		if !*all && *aggregateID == "" {
			logger.Error("either --id or --all must be specified")
			flag.Usage()
			os.Exit(1)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	engine, err := bootstrap.New(ctx, cfg,
		bootstrap.WithLogger(logger),
		bootstrap.WithRegisterer(prometheus.NewRegistry()),
	)
	if err != nil {
		logger.Error("failed to setup engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			logger.Error("failed to close engine", slog.String("error", closeErr.Error()))
		}
	}()

	if engine.HasLocalViews() && *sink != materialize.SinkCache {
		logger.Warn("views of this backend live in the serving process, rebuilding here has no lasting effect",
			slog.String("backend", cfg.EventStore.Backend))
	}

	var ok bool
	switch {
	case *verify:
		ok = runVerify(ctx, engine, *aggregateType, *reportFile, logger)
	case *all:
		ok = runRebuildAll(ctx, engine, *aggregateType, *sink, logger)
	default:
		ok = runRebuildOne(ctx, engine, *aggregateType, *aggregateID, *sink, logger)
	}
	if !ok {
		_ = engine.Close()
		os.Exit(1) //nolint:gocritic // engine closed above
	}
}

func runRebuildOne(ctx context.Context, engine *bootstrap.Engine, aggregateType, id, sink string, logger *slog.Logger) bool {
	logger.InfoContext(ctx, "rebuilding stream",
		slog.String("type", aggregateType),
		slog.String("stream_id", id),
		slog.String("sink", sink),
	)

	if err := engine.Dispatcher.Rematerialize(ctx, aggregateType, id, sink); err != nil {
		logger.ErrorContext(ctx, "rebuild failed", slog.String("error", err.Error()))
		return false
	}

	logger.InfoContext(ctx, "rebuild completed successfully")
	return true
}

func runRebuildAll(ctx context.Context, engine *bootstrap.Engine, aggregateType, sink string, logger *slog.Logger) bool {
	logger.InfoContext(ctx, "rebuilding all streams", slog.String("type", aggregateType), slog.String("sink", sink))

	rebuilt, err := engine.Rebuild(ctx, aggregateType, sink)
	if err != nil {
		logger.ErrorContext(ctx, "rebuild all failed",
			slog.Int("rebuilt", rebuilt),
			slog.String("error", err.Error()),
		)
		return false
	}

	logger.InfoContext(ctx, "rebuild all completed successfully", slog.Int("rebuilt", rebuilt))
	return true
}

func runVerify(ctx context.Context, engine *bootstrap.Engine, aggregateType, reportFile string, logger *slog.Logger) bool {
	types := bootstrap.AggregateTypes()
	if aggregateType != "" {
		types = []string{aggregateType}
	}

	checker := healthcheck.NewReadModelSyncChecker(engine.ReadModels, engine.EventStore, types, verifySampleSize, 0)
	status := checker.Check(ctx)

	if reportFile != "" {
		report, err := json.MarshalIndent(status, "", "  ")
		if err == nil {
			err = os.WriteFile(reportFile, report, 0o600)
		}
		if err != nil {
			logger.ErrorContext(ctx, "failed to write report", slog.String("file", reportFile), slog.String("error", err.Error()))
			return false
		}
		logger.InfoContext(ctx, "report written", slog.String("file", reportFile))
	}

	if !status.Healthy {
		logger.WarnContext(ctx, "read models are INCONSISTENT - rebuild recommended", slog.String("summary", status.Message))
		return false
	}
	logger.InfoContext(ctx, "read models are consistent", slog.String("summary", status.Message))
	return true
}
