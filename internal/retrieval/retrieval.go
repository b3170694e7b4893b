// Package retrieval finds example question/SQL pairs similar to a user
// question, by pure vector similarity or by vector and keyword score fusion.
package retrieval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/querypilot/querypilot/internal/apperr"
)

// Document is one retrieved example. It is not modified after retrieval.
type Document struct {
	ID       string         `json:"id,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// Weights controls hybrid score fusion.
type Weights struct {
	Vector  float64 `json:"vector"`
	Keyword float64 `json:"keyword"`
}

// Normalized scales the weights to sum to one. Non-positive totals fall back
// to pure vector scoring.
func (w Weights) Normalized() Weights {
	if w.Vector < 0 {
		w.Vector = 0
	}
	if w.Keyword < 0 {
		w.Keyword = 0
	}
	total := w.Vector + w.Keyword
	if total <= 0 {
		return Weights{Vector: 1}
	}
	return Weights{Vector: w.Vector / total, Keyword: w.Keyword / total}
}

type Index interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error)
	HybridSearch(ctx context.Context, query string, k int, weights Weights) ([]Document, error)
}

// Writer is implemented by indexes that accept new examples.
type Writer interface {
	Upsert(ctx context.Context, docs []Document) error
}

type CorpusStats struct {
	Documents int
	// AvgLength is the mean document length in bytes, 0 when unknown.
	AvgLength float64
}

// StatsProvider is implemented by indexes that can describe their corpus.
type StatsProvider interface {
	Stats(ctx context.Context) (CorpusStats, error)
}

type Mode string

const (
	ModeVector Mode = "vector"
	ModeHybrid Mode = "hybrid"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeVector:
		return ModeVector, nil
	case ModeHybrid:
		return ModeHybrid, nil
	}
	return "", fmt.Errorf("unknown retrieval mode %q", raw)
}

type Options struct {
	Mode     Mode
	Policy   WeightPolicy
	DefaultK int
	Logger   *slog.Logger
}

type Retriever struct {
	index    Index
	mode     Mode
	policy   WeightPolicy
	defaultK int
	logger   *slog.Logger
}

func New(index Index, opts Options) (*Retriever, error) {
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeVector
	}
	if mode != ModeVector && mode != ModeHybrid {
		return nil, fmt.Errorf("unknown retrieval mode %q", mode)
	}
	policy := opts.Policy
	if policy == nil {
		policy = FixedWeights{Base: DefaultWeights}
	}
	defaultK := opts.DefaultK
	if defaultK <= 0 {
		defaultK = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Retriever{index: index, mode: mode, policy: policy, defaultK: defaultK, logger: logger}, nil
}

func (r *Retriever) Mode() Mode { return r.mode }

// Retrieve returns up to k documents ordered by descending score. Any index
// or embedding failure fails the whole call with a retrieval error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.New(apperr.Retrieval, "query is empty")
	}
	if k <= 0 {
		k = r.defaultK
	}

	var docs []Document
	var err error
	switch r.mode {
	case ModeHybrid:
		weights := r.policy.Weights(query, r.corpusStats(ctx)).Normalized()
		r.logger.DebugContext(ctx, "hybrid retrieval", "vector_weight", weights.Vector, "keyword_weight", weights.Keyword)
		docs, err = r.index.HybridSearch(ctx, query, k, weights)
	default:
		docs, err = r.index.SimilaritySearch(ctx, query, k)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Retrieval, "example search failed", err)
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}

func (r *Retriever) corpusStats(ctx context.Context) *CorpusStats {
	if !r.policy.NeedsStats() {
		return nil
	}
	provider, ok := r.index.(StatsProvider)
	if !ok {
		return nil
	}
	stats, err := provider.Stats(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "corpus stats unavailable, using base weights", "error", err)
		return nil
	}
	return &stats
}
