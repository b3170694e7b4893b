// Package nl2sql turns a natural-language question into SQL: it retrieves
// similar examples, picks the relevant tables, builds a prompt, asks a model
// for an answer and extracts and validates the SQL it contains.
package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/apperr"
	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/retrieval"
	"github.com/querypilot/querypilot/internal/validator"
)

var ErrEmptyQuestion = errors.New("question is required")

const defaultK = 5

type ExampleRetriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.Document, error)
}

type SQLValidator interface {
	Validate(ctx context.Context, sql string) validator.Result
}

// PipelineContext holds the per-process resources shared by every request.
// The catalog and the validator's parse cache are the only shared state.
type PipelineContext struct {
	Catalog   *catalog.Catalog
	Router    llm.Router
	Retriever ExampleRetriever
	Tables    *TableExtractor
	Schema    *SchemaInjector
	Prompts   *PromptBuilder
	Generator *Generator
	Extractor *SQLExtractor
	Validator SQLValidator
	// Rewriter is optional.
	Rewriter *QuestionRewriter
	Logger   *slog.Logger
}

type Request struct {
	Question          string
	K                 int
	Agent             AgentType
	ExcludedTables    []string
	ValidationEnabled bool
	Conversation      []Turn
}

type Response struct {
	Answer            string               `json:"answer"`
	ExtractedSQL      string               `json:"extracted_sql,omitempty"`
	HasSQL            bool                 `json:"has_sql"`
	Validation        *validator.Result    `json:"validation,omitempty"`
	Usage             llm.Usage            `json:"usage"`
	Tables            TableSet             `json:"tables"`
	FQN               map[string]string    `json:"fqn"`
	Examples          []retrieval.Document `json:"examples"`
	RewrittenQuestion string               `json:"rewritten_question,omitempty"`
}

type Pipeline struct {
	pc     PipelineContext
	logger *slog.Logger
}

func NewPipeline(pc PipelineContext) (*Pipeline, error) {
	switch {
	case pc.Catalog == nil:
		return nil, fmt.Errorf("catalog is required")
	case pc.Retriever == nil:
		return nil, fmt.Errorf("retriever is required")
	case pc.Tables == nil:
		return nil, fmt.Errorf("table extractor is required")
	case pc.Schema == nil:
		return nil, fmt.Errorf("schema injector is required")
	case pc.Generator == nil:
		return nil, fmt.Errorf("generator is required")
	case pc.Extractor == nil:
		return nil, fmt.Errorf("sql extractor is required")
	}
	if pc.Prompts == nil {
		pc.Prompts = NewPromptBuilder(0)
	}
	logger := pc.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{pc: pc, logger: logger}, nil
}

func (p *Pipeline) Catalog() *catalog.Catalog { return p.pc.Catalog }

// Run executes every stage in order. Stage failures from external services
// are returned with their error kind; validation problems are reported in
// the response. Nothing is returned when ctx is cancelled mid-run.
func (p *Pipeline) Run(ctx context.Context, req Request) (Response, error) {
	resp, err := p.run(ctx, req)
	observability.ObservePipelineOutcome(outcome(err))
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Response{}, ErrEmptyQuestion
	}
	k := req.K
	if k <= 0 {
		k = defaultK
	}
	var resp Response

	if p.pc.Rewriter != nil && len(req.Conversation) > 0 {
		var usage llm.Usage
		stage("rewrite", func() {
			question, usage = p.pc.Rewriter.Rewrite(ctx, question, req.Conversation)
		})
		resp.Usage = resp.Usage.Add(usage)
		if question != strings.TrimSpace(req.Question) {
			resp.RewrittenQuestion = question
		}
	}

	var err error
	stage("retrieve", func() {
		resp.Examples, err = p.pc.Retriever.Retrieve(ctx, question, k)
	})
	if err != nil {
		return Response{}, err
	}

	scope := p.pc.Tables.Scope(resp.Examples, question, req.ExcludedTables)
	stage("extract_tables", func() {
		resp.Tables, err = scope.Tables(ctx)
	})
	if err != nil {
		return Response{}, err
	}

	var block SchemaBlock
	stage("inject_schema", func() {
		block = p.pc.Schema.Build(resp.Tables)
	})
	resp.FQN = block.FQN

	var prompt PromptContext
	stage("build_prompt", func() {
		prompt = p.pc.Prompts.Build(question, block.Text, resp.Examples, req.Conversation, req.Agent)
	})

	var answer Answer
	stage("generate", func() {
		answer, err = p.pc.Generator.Generate(ctx, prompt.FullPrompt, llm.RoleGenerate)
	})
	if err != nil {
		return Response{}, err
	}
	resp.Answer = answer.Text
	resp.Usage = answer.Usage.Add(resp.Usage)

	stage("extract_sql", func() {
		resp.ExtractedSQL, resp.HasSQL = p.pc.Extractor.Extract(ctx, answer.Text)
	})
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	if req.ValidationEnabled && resp.HasSQL && p.pc.Validator != nil {
		var result validator.Result
		stage("validate", func() {
			result = p.pc.Validator.Validate(ctx, resp.ExtractedSQL)
		})
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		resp.Validation = &result
	}

	p.logger.Info("pipeline completed",
		"trace_id", observability.TraceIDFromContext(ctx),
		"agent", req.Agent.String(),
		"examples", len(resp.Examples),
		"tables", len(resp.Tables),
		"has_sql", resp.HasSQL,
		"total_tokens", resp.Usage.TotalTokens,
	)
	return resp, nil
}

func stage(name string, fn func()) {
	started := time.Now()
	fn()
	observability.ObserveStage(name, time.Since(started))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrEmptyQuestion):
		return "invalid_request"
	}
	if kind := apperr.KindOf(err); kind != "" {
		return string(kind) + "_error"
	}
	return "error"
}
