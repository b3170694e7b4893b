package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/querypilot/querypilot/internal/app"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/corpus"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("querypilot-indexer")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	source := flag.String("corpus", cfg.Corpus.Path, "corpus parquet file: local path or s3:// URI")
	flag.Parse()

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *source, logger); err != nil {
		logger.Error("indexing failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, source string, logger *slog.Logger) error {
	objectStore, err := app.OpenObjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	examples, err := corpus.Load(ctx, source, objectStore)
	if err != nil {
		return err
	}
	logger.Info("corpus loaded", slog.String("source", source), slog.Int("examples", len(examples)))

	var db *sql.DB
	if cfg.VectorDB.Backend == "pgvector" {
		db, err = app.OpenPostgres(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
	}

	var model *llm.OpenAIClient
	if cfg.AI.EmbeddingProvider != "gemini" {
		client, err := app.NewModelClient(cfg)
		if err != nil {
			return err
		}
		model = client
	}
	embedder, closeEmbedder, err := app.NewEmbedder(ctx, cfg, model)
	if err != nil {
		return err
	}
	defer func() { _ = closeEmbedder() }()

	index, err := app.OpenIndex(ctx, cfg, db, embedder)
	if err != nil {
		return err
	}
	indexer, err := corpus.NewIndexer(index, cfg.Corpus.BatchSize, logger)
	if err != nil {
		return err
	}
	summary, err := indexer.Index(ctx, examples)
	if err != nil {
		return err
	}
	logger.Info("corpus indexed",
		slog.String("backend", cfg.VectorDB.Backend),
		slog.Int("indexed", summary.Indexed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("batches", summary.Batches),
	)
	return nil
}
