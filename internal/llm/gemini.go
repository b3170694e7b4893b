package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiEmbedder produces embeddings with a Gemini embedding model.
type GeminiEmbedder struct {
	client *genai.Client
	embed  func(ctx context.Context, text string) ([]float32, error)
}

func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "text-embedding-004"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(strings.TrimSpace(cfg.APIKey)))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	em := client.EmbeddingModel(model)
	return &GeminiEmbedder{
		client: client,
		embed: func(ctx context.Context, text string) ([]float32, error) {
			res, err := em.EmbedContent(ctx, genai.Text(text))
			if err != nil {
				return nil, err
			}
			if res == nil || res.Embedding == nil {
				return nil, nil
			}
			return res.Embedding.Values, nil
		},
	}, nil
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}
	values, err := g.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty gemini embedding")
	}
	return values, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
