package nl2sql

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/querypilot/querypilot/internal/apperr"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/sqltext"
)

var fencePattern = regexp.MustCompile("(?s)```(?:([A-Za-z0-9_+-]*)[ \t]*\r?\n)?(.*?)```")

type fence struct {
	lang string
	body string
}

func fences(text string) []fence {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	out := make([]fence, 0, len(matches))
	for _, m := range matches {
		out = append(out, fence{lang: strings.ToLower(m[1]), body: strings.TrimSpace(m[2])})
	}
	return out
}

// sqlStrategy finds a statement in an answer. ok is false when the strategy
// found nothing.
type sqlStrategy interface {
	name() string
	extract(ctx context.Context, answer string) (sql string, ok bool)
}

type taggedFenceStrategy struct{}

func (taggedFenceStrategy) name() string { return "sql_fence" }

func (taggedFenceStrategy) extract(_ context.Context, answer string) (string, bool) {
	for _, f := range fences(answer) {
		if f.lang == "sql" && f.body != "" {
			return f.body, true
		}
	}
	return "", false
}

type queryFenceStrategy struct{}

func (queryFenceStrategy) name() string { return "query_fence" }

func (queryFenceStrategy) extract(_ context.Context, answer string) (string, bool) {
	for _, f := range fences(answer) {
		if sqltext.IsSQLShaped(f.body) {
			return f.body, true
		}
	}
	return "", false
}

// bareStatementStrategy accepts answers that are nothing but a query.
type bareStatementStrategy struct{}

func (bareStatementStrategy) name() string { return "bare" }

func (bareStatementStrategy) extract(_ context.Context, answer string) (string, bool) {
	trimmed := strings.TrimSpace(answer)
	if strings.Contains(trimmed, "```") || !sqltext.IsSQLShaped(trimmed) {
		return "", false
	}
	if strings.HasSuffix(trimmed, ".") || strings.Contains(trimmed, ". ") || strings.Contains(trimmed, ".\n") {
		return "", false
	}
	return trimmed, true
}

type llmSQLStrategy struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

func (s llmSQLStrategy) name() string { return "llm" }

func (s llmSQLStrategy) extract(ctx context.Context, answer string) (string, bool) {
	words := sqltext.Words(answer)
	var hasVerb bool
	for _, w := range words {
		if w == "SELECT" || w == "WITH" {
			hasVerb = true
			break
		}
	}
	if !hasVerb {
		return "", false
	}

	var out struct {
		SQL string `json:"sql"`
	}
	completion, err := llm.CompleteJSON(ctx, s.client, llm.CompletionRequest{
		Model: s.model,
		Messages: []llm.Message{{Role: "user", Content: "Copy the SQL query contained in the text below verbatim. " +
			"Return an empty string when there is no complete query.\n\n" + answer}},
		Schema: &llm.JSONSchema{
			Name: "sql_extraction",
			Schema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{"sql": map[string]any{"type": "string"}},
				"required":             []string{"sql"},
				"additionalProperties": false,
			},
		},
	}, &out)
	if err != nil {
		s.logger.Warn("sql extraction failed", "error", apperr.Wrap(apperr.Extraction, "structured sql extraction failed", err))
		return "", false
	}
	observability.ObserveTokens(string(llm.RoleExtract), completion.Usage.TotalTokens)
	sql := strings.TrimSpace(out.SQL)
	if !sqltext.IsSQLShaped(sql) {
		return "", false
	}
	return sql, true
}

// SQLExtractor pulls one statement out of a free-form answer.
type SQLExtractor struct {
	strategies []sqlStrategy
}

// NewSQLExtractor builds the extraction chain. A nil client leaves out the
// model-based last resort.
func NewSQLExtractor(client llm.Client, router llm.Router, logger *slog.Logger) *SQLExtractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	strategies := []sqlStrategy{taggedFenceStrategy{}, queryFenceStrategy{}, bareStatementStrategy{}}
	if client != nil {
		strategies = append(strategies, llmSQLStrategy{client: client, model: router.Model(llm.RoleExtract), logger: logger})
	}
	return &SQLExtractor{strategies: strategies}
}

// Extract returns the first statement found, or false when the answer holds
// no SQL. A missing statement is not an error.
func (x *SQLExtractor) Extract(ctx context.Context, answer string) (string, bool) {
	if strings.TrimSpace(answer) == "" {
		return "", false
	}
	for _, strategy := range x.strategies {
		if sql, ok := strategy.extract(ctx, answer); ok {
			observability.ObserveSQLExtraction(strategy.name())
			return sql, true
		}
	}
	observability.ObserveSQLExtraction("")
	return "", false
}
