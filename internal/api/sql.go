package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/executor"
)

type validateRequest struct {
	SQL string `json:"sql"`
}

type executeRequest struct {
	SQL            string `json:"sql"`
	DryRun         bool   `json:"dry_run"`
	MaxBytesBilled int64  `json:"max_bytes_billed"`
	TimeoutMs      int    `json:"timeout_ms"`
}

// handleValidateSQL always answers 200; schema problems are part of the result.
func handleValidateSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Validator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "VALIDATOR_NOT_CONFIGURED", "sql validator is not configured", false, nil)
		return
	}
	var request validateRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid validate request body", false, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, deps.Validator.Validate(r.Context(), request.SQL))
}

func handleExecuteSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Executor == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXECUTOR_NOT_CONFIGURED", "sql executor is not configured", false, nil)
		return
	}
	var request executeRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid execute request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if request.MaxBytesBilled < 0 || request.TimeoutMs < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMITS", "max_bytes_billed and timeout_ms must be >= 0", false, nil)
		return
	}

	var subject string
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		subject = identity.Subject
	}
	result := deps.Executor.Execute(r.Context(), executor.Request{
		Subject:        subject,
		SQL:            request.SQL,
		DryRun:         request.DryRun,
		MaxBytesBilled: request.MaxBytesBilled,
		Timeout:        time.Duration(request.TimeoutMs) * time.Millisecond,
	})
	if !result.Success {
		writeKindError(r.Context(), w, result.ErrorKind, result.ErrorMessage, map[string]any{
			"job_id":          result.JobID,
			"bytes_processed": result.BytesProcessed,
			"duration_ms":     result.ExecutionTime.Milliseconds(),
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
