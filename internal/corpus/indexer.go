package corpus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/querypilot/querypilot/internal/retrieval"
)

const defaultBatchSize = 64

type Summary struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Batches int `json:"batches"`
}

type Indexer struct {
	writer    retrieval.Writer
	batchSize int
	logger    *slog.Logger
}

func NewIndexer(writer retrieval.Writer, batchSize int, logger *slog.Logger) (*Indexer, error) {
	if writer == nil {
		return nil, fmt.Errorf("index writer is required")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Indexer{writer: writer, batchSize: batchSize, logger: logger}, nil
}

// Index upserts examples in batches. Examples without a question or SQL are
// skipped; later duplicates of an id replace earlier ones. A failed batch
// stops the run and the summary counts what was written before it.
func (ix *Indexer) Index(ctx context.Context, examples []Example) (Summary, error) {
	var summary Summary
	docs := make([]retrieval.Document, 0, len(examples))
	position := make(map[string]int, len(examples))
	for _, example := range examples {
		if strings.TrimSpace(example.Question) == "" || strings.TrimSpace(example.SQL) == "" {
			summary.Skipped++
			ix.logger.Warn("skipping incomplete example", "id", example.ID)
			continue
		}
		doc := example.Document()
		if idx, ok := position[doc.ID]; ok {
			docs[idx] = doc
			summary.Skipped++
			continue
		}
		position[doc.ID] = len(docs)
		docs = append(docs, doc)
	}

	for start := 0; start < len(docs); start += ix.batchSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		end := min(start+ix.batchSize, len(docs))
		if err := ix.writer.Upsert(ctx, docs[start:end]); err != nil {
			return summary, fmt.Errorf("upsert batch %d: %w", summary.Batches+1, err)
		}
		summary.Batches++
		summary.Indexed += end - start
		ix.logger.Debug("indexed example batch", "batch", summary.Batches, "size", end-start)
	}
	ix.logger.Info("corpus indexed", "indexed", summary.Indexed, "skipped", summary.Skipped, "batches", summary.Batches)
	return summary, nil
}
