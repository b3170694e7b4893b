package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/app"
	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/maintenance"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/retrieval"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("querypilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.Error("api server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStart()

	objectStore, err := app.OpenObjectStore(startCtx, cfg)
	if err != nil {
		return err
	}

	var db *sql.DB
	if app.NeedsPostgres(cfg) {
		db, err = app.OpenPostgres(startCtx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
	}

	cat, err := app.LoadCatalog(startCtx, cfg, objectStore, db)
	if err != nil {
		return err
	}
	logger.Info("schema catalog loaded", slog.Int("tables", cat.Len()), slog.String("source", cfg.Schema.Source))

	model, err := app.NewModelClient(cfg)
	if err != nil {
		return err
	}
	router := app.NewRouter(cfg)

	embedder, closeEmbedder, err := app.NewEmbedder(startCtx, cfg, model)
	if err != nil {
		return err
	}
	defer func() { _ = closeEmbedder() }()

	index, err := app.OpenIndex(startCtx, cfg, db, embedder)
	if err != nil {
		return err
	}
	retrievalOpts, err := app.RetrievalOptions(cfg, logger)
	if err != nil {
		return err
	}
	retriever, err := retrieval.New(index, retrievalOpts)
	if err != nil {
		return err
	}

	warehouse, closeWarehouse, err := app.NewWarehouse(startCtx, cfg, objectStore)
	if err != nil {
		return err
	}
	defer func() { _ = closeWarehouse() }()

	audit, err := app.AuditSink(db)
	if err != nil {
		return err
	}
	components, err := app.BuildComponents(cfg, app.ComponentDeps{
		Catalog:   cat,
		Model:     model,
		Router:    router,
		Retriever: retriever,
		Warehouse: warehouse,
		Audit:     audit,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	readiness := []api.ReadinessCheck{api.CheckObjectStoreConfig(cfg), api.CheckCatalogLoaded(cat)}
	if db != nil {
		readiness = append(readiness, api.CheckPostgresDSN(cfg), db.PingContext)
	}
	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		Catalog:           cat,
		Pipeline:          components.Pipeline,
		Validator:         components.Validator,
	}
	if components.Executor != nil {
		deps.Executor = components.Executor
	}
	var integrity *maintenance.Service
	if cfg.Warehouse.Engine == "duckdb" {
		integrity = &maintenance.Service{
			Catalog:     cat,
			ObjectStore: objectStore,
			Config: maintenance.Config{
				Root:              cfg.Warehouse.Root,
				Project:           cfg.Warehouse.Project,
				IntegrityInterval: cfg.Warehouse.IntegrityInterval,
			},
			Logger: logger,
		}
		deps.Integrity = integrity
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return err
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if integrity != nil {
		go func() { _ = integrity.Run(ctx) }()
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("vector_backend", cfg.VectorDB.Backend),
			slog.String("warehouse", cfg.Warehouse.Engine),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return err
	}
	return nil
}
