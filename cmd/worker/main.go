package main

import (
	"context"
	"time"

	"highlightflow/internal/activities"
	"highlightflow/internal/config"
	"highlightflow/internal/logging"
	"highlightflow/internal/storage"
	"highlightflow/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogPretty)
	logger := logging.WithComponent("worker")

	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("load tuning")
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    logging.NewTemporalLogger(logging.WithComponent("temporal")),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("dial temporal")
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := storage.Migrate(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("migrate schema")
		}
	}

	a, err := activities.New(cfg, tuning, db, logging.NewLogger())
	if err != nil {
		logger.Fatal().Err(err).Msg("build activities")
	}
	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.WorkerConcurrency,
	})
	workflows.Register(w)
	activities.Register(w, a)

	logger.Info().Str("temporal", cfg.TemporalAddress).Str("queue", cfg.TemporalTaskQueue).
		Str("analysis_providers", cfg.AnalysisProviders).Str("embed_providers", cfg.EmbedProviders).
		Int("max_concurrent_activities", cfg.WorkerConcurrency).Msg("highlightflow worker starting")
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
}
