package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/querypilot/querypilot/internal/apperr"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/nl2sql"
)

type pipelineRequest struct {
	Question          string        `json:"question"`
	K                 int           `json:"k"`
	AgentType         string        `json:"agent_type"`
	ExcludedTables    []string      `json:"excluded_tables"`
	ValidationEnabled *bool         `json:"validation_enabled"`
	Conversation      []nl2sql.Turn `json:"conversation"`
}

func handlePipelineRun(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "pipeline is not configured", false, nil)
		return
	}

	var request pipelineRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid pipeline request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if request.K < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_K", "k must be >= 0", false, nil)
		return
	}

	validate := cfg.Pipeline.ValidationEnabled
	if request.ValidationEnabled != nil {
		validate = *request.ValidationEnabled
	}

	response, err := deps.Pipeline.Run(r.Context(), nl2sql.Request{
		Question:          request.Question,
		K:                 request.K,
		Agent:             nl2sql.ParseAgentType(request.AgentType),
		ExcludedTables:    request.ExcludedTables,
		ValidationEnabled: validate,
		Conversation:      request.Conversation,
	})
	if err != nil {
		switch {
		case errors.Is(err, nl2sql.ErrEmptyQuestion):
			writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", err.Error(), false, nil)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(r.Context(), w, http.StatusGatewayTimeout, "PIPELINE_CANCELLED", "pipeline run was cancelled", true, nil)
		default:
			if deps.Logger != nil {
				deps.Logger.WarnContext(r.Context(), "pipeline run failed", "error", err)
			}
			writeKindError(r.Context(), w, apperr.KindOf(err), "pipeline run failed", map[string]any{"details": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, response)
}
