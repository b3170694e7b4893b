package nl2sql

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/observability"
)

// QuestionRewriter turns a follow-up question into a standalone one using the
// conversation so far.
type QuestionRewriter struct {
	client  llm.Client
	model   string
	prompts *PromptBuilder
	logger  *slog.Logger
}

func NewQuestionRewriter(client llm.Client, router llm.Router, prompts *PromptBuilder, logger *slog.Logger) *QuestionRewriter {
	if prompts == nil {
		prompts = NewPromptBuilder(0)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &QuestionRewriter{client: client, model: router.Model(llm.RoleRewrite), prompts: prompts, logger: logger}
}

// Rewrite returns the rewritten question, or question itself when there is
// no conversation or the model call fails.
func (r *QuestionRewriter) Rewrite(ctx context.Context, question string, turns []Turn) (string, llm.Usage) {
	if r == nil || r.client == nil {
		return question, llm.Usage{}
	}
	history := r.prompts.contextSection(turns)
	if history == "" {
		return question, llm.Usage{}
	}
	prompt := "Rewrite the last question so it can be understood without the conversation. " +
		"Keep table names, filters and time ranges. Reply with the question only.\n\nConversation:\n" +
		history + "\n\nQuestion: " + question
	completion, err := r.client.Complete(ctx, llm.CompletionRequest{
		Model:    r.model,
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		r.logger.Warn("question rewrite failed, using original question", "error", err)
		return question, llm.Usage{}
	}
	observability.ObserveTokens(string(llm.RoleRewrite), completion.Usage.TotalTokens)
	rewritten := strings.TrimSpace(llm.StripCodeFence(completion.Text))
	if rewritten == "" {
		return question, completion.Usage
	}
	return rewritten, completion.Usage
}
