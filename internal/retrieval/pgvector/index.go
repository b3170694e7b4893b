// Package pgvector stores example documents in Postgres with the pgvector
// extension. Hybrid search fuses cosine similarity with ts_rank_cd over a
// generated tsvector column in a single query.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	pgv "github.com/pgvector/pgvector-go"

	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/retrieval"
)

const similarityQuery = `
SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
FROM example_documents
ORDER BY embedding <=> $1
LIMIT $2`

const hybridQuery = `
WITH candidates AS (
  SELECT id, content, metadata,
         1 - (embedding <=> $1) AS vector_score,
         ts_rank_cd(content_tsv, plainto_tsquery('simple', $2), 32) AS keyword_score
  FROM example_documents
  ORDER BY embedding <=> $1
  LIMIT $5
)
SELECT id, content, metadata, ($3 * vector_score + $4 * keyword_score) AS score
FROM candidates
ORDER BY score DESC
LIMIT $6`

const upsertQuery = `
INSERT INTO example_documents (id, content, metadata, embedding)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (id) DO UPDATE
SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding, updated_at = now()`

const statsQuery = `SELECT COUNT(*), COALESCE(AVG(length(content)), 0) FROM example_documents`

type Options struct {
	// Overfetch multiplies k for the hybrid candidate set.
	Overfetch int
}

type Index struct {
	db        *sql.DB
	embedder  llm.Embedder
	overfetch int
}

func New(db *sql.DB, embedder llm.Embedder, opts Options) (*Index, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	overfetch := opts.Overfetch
	if overfetch <= 0 {
		overfetch = 4
	}
	return &Index{db: db, embedder: embedder, overfetch: overfetch}, nil
}

func (i *Index) SimilaritySearch(ctx context.Context, query string, k int) ([]retrieval.Document, error) {
	vec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	rows, err := i.db.QueryContext(ctx, similarityQuery, pgv.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return scanDocuments(rows)
}

func (i *Index) HybridSearch(ctx context.Context, query string, k int, weights retrieval.Weights) ([]retrieval.Document, error) {
	vec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	w := weights.Normalized()
	rows, err := i.db.QueryContext(ctx, hybridQuery, pgv.NewVector(vec), query, w.Vector, w.Keyword, k*i.overfetch, k)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	return scanDocuments(rows)
}

func (i *Index) Stats(ctx context.Context) (retrieval.CorpusStats, error) {
	var stats retrieval.CorpusStats
	if err := i.db.QueryRowContext(ctx, statsQuery).Scan(&stats.Documents, &stats.AvgLength); err != nil {
		return retrieval.CorpusStats{}, fmt.Errorf("corpus stats: %w", err)
	}
	return stats, nil
}

// Upsert embeds and writes docs in one transaction.
func (i *Index) Upsert(ctx context.Context, docs []retrieval.Document) error {
	if len(docs) == 0 {
		return nil
	}
	type row struct {
		doc      retrieval.Document
		metadata string
		vec      pgv.Vector
	}
	rows := make([]row, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.ID) == "" {
			return fmt.Errorf("document id is required")
		}
		vec, err := i.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", doc.ID, err)
		}
		metadata := "{}"
		if len(doc.Metadata) > 0 {
			raw, err := json.Marshal(doc.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata of %s: %w", doc.ID, err)
			}
			metadata = string(raw)
		}
		rows = append(rows, row{doc: doc, metadata: metadata, vec: pgv.NewVector(vec)})
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, upsertQuery, r.doc.ID, r.doc.Content, r.metadata, r.vec); err != nil {
			return fmt.Errorf("upsert document %s: %w", r.doc.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func scanDocuments(rows *sql.Rows) ([]retrieval.Document, error) {
	defer func() { _ = rows.Close() }()
	var out []retrieval.Document
	for rows.Next() {
		var doc retrieval.Document
		var metadata []byte
		if err := rows.Scan(&doc.ID, &doc.Content, &metadata, &doc.Score); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", doc.ID, err)
			}
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}
