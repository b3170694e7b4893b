// Package llm holds the model clients the pipeline talks to: chat completion
// (free text or structured JSON) and text embeddings, plus role-based model
// routing.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// JSONSchema asks the model for a structured object instead of free text.
type JSONSchema struct {
	Name   string
	Schema map[string]any
}

type CompletionRequest struct {
	Model    string
	Messages []Message
	// Schema, when set, requests a JSON object matching it.
	Schema      *JSONSchema
	Temperature *float64
	MaxTokens   int
}

type Usage struct {
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	Model            string        `json:"model"`
	Duration         time.Duration `json:"duration"`
}

// Add accumulates token counts and durations. The model of u wins when set.
func (u Usage) Add(other Usage) Usage {
	out := Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		Model:            u.Model,
		Duration:         u.Duration + other.Duration,
	}
	if out.Model == "" {
		out.Model = other.Model
	}
	return out
}

type Completion struct {
	Text  string
	Usage Usage
}

type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CompleteJSON runs a structured completion and decodes the answer into out.
// Code fences around the JSON are tolerated.
func CompleteJSON(ctx context.Context, client Client, req CompletionRequest, out any) (Completion, error) {
	if req.Schema == nil {
		return Completion{}, fmt.Errorf("structured completion requires a schema")
	}
	completion, err := client.Complete(ctx, req)
	if err != nil {
		return Completion{}, err
	}
	raw := StripCodeFence(completion.Text)
	if raw == "" {
		return completion, fmt.Errorf("model returned an empty structured answer")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return completion, fmt.Errorf("decode structured answer: %w", err)
	}
	return completion, nil
}

// StripCodeFence removes one surrounding markdown fence, with or without a
// language tag.
func StripCodeFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 && !strings.ContainsAny(trimmed[:idx], " {[") {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// StringArraySchema describes {"<field>": ["..."]}.
func StringArraySchema(name, field string) *JSONSchema {
	return &JSONSchema{
		Name: name,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				field: map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required":             []string{field},
			"additionalProperties": false,
		},
	}
}
