package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/querypilot/querypilot/internal/app"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/demo/seed"
	"github.com/querypilot/querypilot/internal/observability"
)

func main() {
	_ = godotenv.Load()

	svcCfg, err := config.LoadFromEnv("querypilot-demo-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(svcCfg, os.Stdout)

	cfg, err := seed.ConfigFrom(svcCfg, os.LookupEnv)
	if err != nil {
		logger.Error("failed to load demo seed config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenObjectStore(ctx, svcCfg)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}
	service, err := seed.NewService(cfg, store, logger)
	if err != nil {
		logger.Error("failed to initialize demo seed", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("demo seed started",
		slog.String("root", cfg.Root),
		slog.String("project", cfg.Project),
		slog.String("dataset", cfg.Dataset),
		slog.Int("users", cfg.Users),
		slog.Int64("seed", cfg.Seed),
	)
	if _, err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("demo seed failed", slog.Any("error", err))
		os.Exit(1)
	}
}
