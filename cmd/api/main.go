package main

import (
	"context"
	"net/http"
	"time"

	"highlightflow/internal/api"
	"highlightflow/internal/config"
	"highlightflow/internal/logging"
	"highlightflow/internal/objectstore"
	"highlightflow/internal/orchestrator"
	"highlightflow/internal/storage"

	"github.com/joho/godotenv"
	tclient "go.temporal.io/sdk/client"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogPretty)
	logger := logging.WithComponent("api")

	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("load tuning")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer db.Close()

	tc, err := tclient.Dial(tclient.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    logging.NewTemporalLogger(logging.WithComponent("temporal")),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("dial temporal")
	}
	defer tc.Close()

	store, err := objectstore.NewFS(cfg.ObjectStoreRoot, cfg.ObjectStoreBaseURI)
	if err != nil {
		logger.Fatal().Err(err).Msg("open object store")
	}

	projects := storage.NewProjectRepo(db)
	svc := orchestrator.New(cfg, tuning, projects, storage.NewSegmentRepo(db),
		orchestrator.NewTemporalClient(tc, cfg.TemporalTaskQueue), store, logging.NewLogger())
	h := api.NewServer(svc, projects, 0, logging.NewLogger())

	logger.Info().Str("addr", cfg.APIAddr).Str("queue", cfg.TemporalTaskQueue).Msg("highlightflow api listening")
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		logger.Fatal().Err(err).Msg("api stopped")
	}
}
