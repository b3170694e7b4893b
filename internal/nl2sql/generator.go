package nl2sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/apperr"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/observability"
)

type Answer struct {
	Text  string
	Usage llm.Usage
}

type GeneratorOptions struct {
	Temperature *float64
	MaxTokens   int
}

// Generator runs one completion per call. It never retries.
type Generator struct {
	client llm.Client
	router llm.Router
	opts   GeneratorOptions
}

func NewGenerator(client llm.Client, router llm.Router, opts GeneratorOptions) (*Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	return &Generator{client: client, router: router, opts: opts}, nil
}

// Generate sends prompt to the model routed to role. Failures are returned as
// generation errors.
func (g *Generator) Generate(ctx context.Context, prompt string, role llm.Role) (Answer, error) {
	if strings.TrimSpace(prompt) == "" {
		return Answer{}, apperr.New(apperr.Generation, "prompt is empty")
	}
	model := g.router.Model(role)
	started := time.Now()
	completion, err := g.client.Complete(ctx, llm.CompletionRequest{
		Model:       model,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
	})
	if err != nil {
		return Answer{}, apperr.Wrap(apperr.Generation, fmt.Sprintf("model %s failed", model), err)
	}
	usage := completion.Usage
	if usage.Model == "" {
		usage.Model = model
	}
	if usage.Duration <= 0 {
		usage.Duration = time.Since(started)
	}
	observability.ObserveTokens(string(role), usage.TotalTokens)
	return Answer{Text: completion.Text, Usage: usage}, nil
}
