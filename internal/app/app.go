// Package app assembles the service components from configuration. The
// binaries under cmd/ share it so the API, the indexer and the demo seed
// agree on how stores, indexes and models are built.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/querypilot/querypilot/internal/catalog"
	catalogpostgres "github.com/querypilot/querypilot/internal/catalog/postgres"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/executor"
	executorpostgres "github.com/querypilot/querypilot/internal/executor/postgres"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/query/bigquery"
	duckdbengine "github.com/querypilot/querypilot/internal/query/duckdb"
	"github.com/querypilot/querypilot/internal/retrieval"
	"github.com/querypilot/querypilot/internal/retrieval/pgvector"
	"github.com/querypilot/querypilot/internal/retrieval/qdrant"
	"github.com/querypilot/querypilot/internal/storage"
	s3store "github.com/querypilot/querypilot/internal/storage/s3"
	"github.com/querypilot/querypilot/internal/validator"
)

// ExampleIndex is a searchable index that also accepts new examples.
type ExampleIndex interface {
	retrieval.Index
	retrieval.Writer
}

func OpenObjectStore(ctx context.Context, cfg config.Config) (*s3store.Store, error) {
	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize object store: %w", err)
	}
	return store, nil
}

func OpenPostgres(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{
		DSN:             cfg.Postgres.DSN,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// NeedsPostgres reports whether any configured component lives in Postgres.
func NeedsPostgres(cfg config.Config) bool {
	return cfg.VectorDB.Backend == "pgvector" || cfg.Schema.Source == "postgres"
}

func NewModelClient(cfg config.Config) (*llm.OpenAIClient, error) {
	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:        cfg.AI.BaseURL,
		APIKey:         cfg.AI.APIKey,
		Model:          cfg.AI.Model,
		EmbeddingModel: openAIEmbeddingModel(cfg),
		Temperature:    cfg.AI.Temperature,
		Timeout:        cfg.AI.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize model client: %w", err)
	}
	return client, nil
}

func NewRouter(cfg config.Config) llm.Router {
	return llm.NewRouter(cfg.AI.Model, map[llm.Role]string{
		llm.RoleParse:   cfg.AI.ParseModel,
		llm.RoleRewrite: cfg.AI.RewriteModel,
		llm.RoleExtract: cfg.AI.ExtractModel,
	})
}

// NewEmbedder returns the configured embedder and a close func. The OpenAI
// embedder is the model client itself.
func NewEmbedder(ctx context.Context, cfg config.Config, openai *llm.OpenAIClient) (llm.Embedder, func() error, error) {
	switch cfg.AI.EmbeddingProvider {
	case "gemini":
		g, err := llm.NewGeminiEmbedder(ctx, llm.GeminiConfig{APIKey: cfg.AI.GeminiAPIKey, Model: cfg.AI.EmbeddingModel})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize gemini embedder: %w", err)
		}
		return g, g.Close, nil
	case "openai", "":
		if openai == nil {
			return nil, nil, fmt.Errorf("openai embeddings need a model client")
		}
		return openai, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.AI.EmbeddingProvider)
}

// OpenIndex builds the configured example index. db is only used by pgvector.
func OpenIndex(ctx context.Context, cfg config.Config, db *sql.DB, embedder llm.Embedder) (ExampleIndex, error) {
	switch cfg.VectorDB.Backend {
	case "pgvector":
		idx, err := pgvector.New(db, embedder, pgvector.Options{Overfetch: cfg.VectorDB.Overfetch})
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "qdrant":
		idx, err := qdrant.New(qdrant.Config{
			Host:       cfg.VectorDB.QdrantHost,
			Port:       cfg.VectorDB.QdrantPort,
			APIKey:     cfg.VectorDB.QdrantAPIKey,
			UseTLS:     cfg.VectorDB.QdrantUseTLS,
			Collection: cfg.VectorDB.Collection,
			VectorSize: cfg.VectorDB.VectorSize,
			Overfetch:  cfg.VectorDB.Overfetch,
		}, embedder)
		if err != nil {
			return nil, err
		}
		if err := idx.EnsureCollection(ctx); err != nil {
			return nil, fmt.Errorf("ensure qdrant collection: %w", err)
		}
		return idx, nil
	}
	return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorDB.Backend)
}

func RetrievalOptions(cfg config.Config, logger *slog.Logger) (retrieval.Options, error) {
	mode, err := retrieval.ParseMode(cfg.Retrieval.Mode)
	if err != nil {
		return retrieval.Options{}, err
	}
	base := retrieval.Weights{Vector: cfg.Retrieval.VectorWeight, Keyword: cfg.Retrieval.KeywordWeight}
	var policy retrieval.WeightPolicy = retrieval.FixedWeights{Base: base}
	if cfg.Retrieval.AutoWeights {
		policy = retrieval.AutoWeights{Base: base}
	}
	return retrieval.Options{Mode: mode, Policy: policy, DefaultK: cfg.Retrieval.K, Logger: logger}, nil
}

// LoadCatalog reads the schema catalog from the CSV source or, for the
// postgres source, by introspecting db.
func LoadCatalog(ctx context.Context, cfg config.Config, store storage.ObjectStore, db *sql.DB) (*catalog.Catalog, error) {
	switch cfg.Schema.Source {
	case "csv":
		return catalog.LoadCSV(ctx, cfg.Schema.CSVPath, store)
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("postgres schema source needs a database")
		}
		return catalogpostgres.NewIntrospector(db, cfg.Schema.Project).Load(ctx, cfg.Schema.PostgresSchemas)
	}
	return nil, fmt.Errorf("unknown schema source %q", cfg.Schema.Source)
}

// NewWarehouse returns the configured warehouse and a close func.
func NewWarehouse(ctx context.Context, cfg config.Config, store storage.ObjectStore) (query.Warehouse, func() error, error) {
	switch cfg.Warehouse.Engine {
	case "duckdb":
		engine := duckdbengine.NewEngine(store, duckdbengine.Options{
			Root:           cfg.Warehouse.Root,
			Project:        cfg.Warehouse.Project,
			DefaultDataset: cfg.Warehouse.DefaultDataset,
		})
		return engine, func() error { return nil }, nil
	case "bigquery":
		wh, err := bigquery.New(ctx, bigquery.Config{
			ProjectID:       cfg.Warehouse.BigQueryProject,
			Location:        cfg.Warehouse.BigQueryLocation,
			CredentialsFile: cfg.Warehouse.CredentialsFile,
		})
		if err != nil {
			return nil, nil, err
		}
		return wh, wh.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown warehouse engine %q", cfg.Warehouse.Engine)
}

// Components are the request-path services built on one catalog.
type Components struct {
	Pipeline  *nl2sql.Pipeline
	Validator *validator.Validator
	Executor  *executor.Executor
}

type ComponentDeps struct {
	Catalog   *catalog.Catalog
	Model     llm.Client
	Router    llm.Router
	Retriever nl2sql.ExampleRetriever
	Warehouse query.Warehouse
	// Audit is optional.
	Audit  executor.AuditSink
	Logger *slog.Logger
}

func BuildComponents(cfg config.Config, deps ComponentDeps) (Components, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cache := validator.NewParseCache(validator.CacheOptions{MaxEntries: cfg.ParseCache.MaxEntries, MaxAge: cfg.ParseCache.MaxAge})
	var parsers []validator.Parser
	if deps.Model != nil {
		parsers = append(parsers, validator.NewLLMParser(deps.Model, deps.Router))
	}
	v, err := validator.New(deps.Catalog, cache, validator.Options{
		StrictDerivedAliases: cfg.Pipeline.StrictDerivedAliases,
		Logger:               logger,
	}, parsers...)
	if err != nil {
		return Components{}, fmt.Errorf("build validator: %w", err)
	}

	tables, err := nl2sql.NewTableExtractor(deps.Catalog, deps.Model, deps.Router, nl2sql.TableExtractorOptions{
		MaxDocuments: cfg.Pipeline.MaxTableDocuments,
		Concurrency:  cfg.Pipeline.ExtractConcurrency,
		Logger:       logger,
	})
	if err != nil {
		return Components{}, fmt.Errorf("build table extractor: %w", err)
	}
	schema, err := nl2sql.NewSchemaInjector(deps.Catalog)
	if err != nil {
		return Components{}, fmt.Errorf("build schema injector: %w", err)
	}
	generator, err := nl2sql.NewGenerator(deps.Model, deps.Router, nl2sql.GeneratorOptions{})
	if err != nil {
		return Components{}, fmt.Errorf("build generator: %w", err)
	}
	prompts := nl2sql.NewPromptBuilder(cfg.Pipeline.MaxTurns)
	var rewriter *nl2sql.QuestionRewriter
	if cfg.Pipeline.RewriteEnabled {
		rewriter = nl2sql.NewQuestionRewriter(deps.Model, deps.Router, prompts, logger)
	}
	pipeline, err := nl2sql.NewPipeline(nl2sql.PipelineContext{
		Catalog:   deps.Catalog,
		Router:    deps.Router,
		Retriever: deps.Retriever,
		Tables:    tables,
		Schema:    schema,
		Prompts:   prompts,
		Generator: generator,
		Extractor: nl2sql.NewSQLExtractor(deps.Model, deps.Router, logger),
		Validator: v,
		Rewriter:  rewriter,
		Logger:    logger,
	})
	if err != nil {
		return Components{}, fmt.Errorf("build pipeline: %w", err)
	}

	out := Components{Pipeline: pipeline, Validator: v}
	if deps.Warehouse != nil {
		policy, err := executor.PolicyFromConfig(cfg.Executor)
		if err != nil {
			return Components{}, fmt.Errorf("load executor policy: %w", err)
		}
		exec, err := executor.New(deps.Warehouse, policy, logger)
		if err != nil {
			return Components{}, fmt.Errorf("build executor: %w", err)
		}
		if deps.Audit != nil {
			exec = exec.WithAudit(deps.Audit)
		}
		out.Executor = exec
	}
	return out, nil
}

// AuditSink records executions in Postgres when a database is available.
func AuditSink(db *sql.DB) (executor.AuditSink, error) {
	if db == nil {
		return nil, nil
	}
	recorder, err := executorpostgres.NewAuditRecorder(db)
	if err != nil {
		return nil, err
	}
	return recorder, nil
}

func openAIEmbeddingModel(cfg config.Config) string {
	if strings.EqualFold(cfg.AI.EmbeddingProvider, "gemini") {
		return ""
	}
	return cfg.AI.EmbeddingModel
}
