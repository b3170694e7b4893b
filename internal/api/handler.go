package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querypilot/querypilot/internal/apperr"
	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/executor"
	"github.com/querypilot/querypilot/internal/maintenance"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/validator"
)

type ReadinessCheck func(ctx context.Context) error

type PipelineRunner interface {
	Run(ctx context.Context, req nl2sql.Request) (nl2sql.Response, error)
}

type SQLValidator interface {
	Validate(ctx context.Context, sql string) validator.Result
}

type SQLExecutor interface {
	Execute(ctx context.Context, req executor.Request) executor.Result
}

type IntegrityReporter interface {
	Last() (maintenance.IntegritySummary, bool)
	Ready(ctx context.Context) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Catalog           *catalog.Catalog
	Pipeline          PipelineRunner
	Validator         SQLValidator
	Executor          SQLExecutor
	Integrity         IntegrityReporter
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protect := protector(cfg, deps)
	mux.Handle("GET /v1/schema", protect(auth.RoleQueryReader, func(w http.ResponseWriter, r *http.Request) {
		handleListSchema(deps, w, r)
	}))
	mux.Handle("GET /v1/schema/{table}", protect(auth.RoleQueryReader, func(w http.ResponseWriter, r *http.Request) {
		handleGetSchemaTable(deps, w, r)
	}))
	mux.Handle("POST /v1/pipeline/run", protect(auth.RoleQueryReader, func(w http.ResponseWriter, r *http.Request) {
		handlePipelineRun(cfg, deps, w, r)
	}))
	mux.Handle("POST /v1/sql/validate", protect(auth.RoleQueryReader, func(w http.ResponseWriter, r *http.Request) {
		handleValidateSQL(deps, w, r)
	}))
	mux.Handle("POST /v1/sql/execute", protect(auth.RoleQueryExecutor, func(w http.ResponseWriter, r *http.Request) {
		handleExecuteSQL(deps, w, r)
	}))
	mux.Handle("GET /v1/warehouse/integrity", protect(auth.RoleQueryReader, func(w http.ResponseWriter, r *http.Request) {
		handleWarehouseIntegrity(deps, w, r)
	}))

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// protector wraps a route with the role check and, when configured, the auth
// middleware.
func protector(cfg config.Config, deps Dependencies) func(role string, fn http.HandlerFunc) http.Handler {
	return func(role string, fn http.HandlerFunc) http.Handler {
		var handler http.Handler = auth.RequireRole(role)(fn)
		if !cfg.Auth.Required {
			return handler
		}
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		}
		return deps.AuthMiddleware(handler)
	}
}

func CheckPostgresDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

// CheckCatalogLoaded fails while the schema catalog has no tables.
func CheckCatalogLoaded(cat *catalog.Catalog) ReadinessCheck {
	return func(_ context.Context) error {
		if cat.Len() == 0 {
			return errors.New("schema catalog is empty")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

type kindStatus struct {
	status    int
	code      string
	retryable bool
}

var kindStatuses = map[apperr.Kind]kindStatus{
	apperr.Retrieval:        {http.StatusBadGateway, "RETRIEVAL_FAILED", true},
	apperr.Generation:       {http.StatusBadGateway, "GENERATION_FAILED", true},
	apperr.Extraction:       {http.StatusBadGateway, "EXTRACTION_FAILED", true},
	apperr.Validation:       {http.StatusUnprocessableEntity, "VALIDATION_FAILED", false},
	apperr.ExecutionSafety:  {http.StatusBadRequest, "SQL_NOT_ALLOWED", false},
	apperr.ExecutionRuntime: {http.StatusBadGateway, "EXECUTION_FAILED", true},
}

// writeKindError maps an error kind to its HTTP status and error code.
func writeKindError(ctx context.Context, w http.ResponseWriter, kind apperr.Kind, message string, extra map[string]any) {
	mapped, ok := kindStatuses[kind]
	if !ok {
		mapped = kindStatus{http.StatusInternalServerError, "INTERNAL", false}
	}
	writeError(ctx, w, mapped.status, mapped.code, message, mapped.retryable, extra)
}
