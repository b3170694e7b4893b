package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/querypilot/querypilot/internal/retrieval"
)

func TestSimilaritySearchScansDocuments(t *testing.T) {
	db, mock := newSQLMock(t)
	index := mustIndex(t, db, fakeEmbedder{vec: []float32{0.1, 0.2}})

	mock.ExpectQuery(regexp.QuoteMeta(similarityQuery)).
		WithArgs("[0.1,0.2]", 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "metadata", "score"}).
			AddRow("ex-1", "-- Question: top users\nSELECT 1", []byte(`{"tags":"revenue"}`), 0.91).
			AddRow("ex-2", "SELECT 2", nil, 0.5))

	docs, err := index.SimilaritySearch(context.Background(), "top users", 3)
	if err != nil {
		t.Fatalf("SimilaritySearch() error = %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "ex-1" || docs[0].Score != 0.91 {
		t.Fatalf("docs = %+v", docs)
	}
	if docs[0].Metadata["tags"] != "revenue" {
		t.Fatalf("metadata = %#v", docs[0].Metadata)
	}
	assertSQLMock(t, mock)
}

func TestHybridSearchPassesNormalizedWeights(t *testing.T) {
	db, mock := newSQLMock(t)
	index := mustIndex(t, db, fakeEmbedder{vec: []float32{1}})

	mock.ExpectQuery(regexp.QuoteMeta(hybridQuery)).
		WithArgs("[1]", "sale_price by user", 0.75, 0.25, 8, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "metadata", "score"}).
			AddRow("ex-1", "SELECT 1", []byte(`{}`), 0.8))

	docs, err := index.HybridSearch(context.Background(), "sale_price by user", 2, retrieval.Weights{Vector: 3, Keyword: 1})
	if err != nil {
		t.Fatalf("HybridSearch() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d", len(docs))
	}
	assertSQLMock(t, mock)
}

func TestSearchEmbeddingFailureSkipsQuery(t *testing.T) {
	db, mock := newSQLMock(t)
	index := mustIndex(t, db, fakeEmbedder{err: errors.New("503")})
	if _, err := index.SimilaritySearch(context.Background(), "q", 1); err == nil {
		t.Fatal("expected embedding error")
	}
	assertSQLMock(t, mock)
}

func TestUpsertWritesInTransaction(t *testing.T) {
	db, mock := newSQLMock(t)
	index := mustIndex(t, db, fakeEmbedder{vec: []float32{0.5}})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(upsertQuery)).
		WithArgs("ex-1", "SELECT 1", `{"source":"seed"}`, "[0.5]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(upsertQuery)).
		WithArgs("ex-2", "SELECT 2", "{}", "[0.5]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := index.Upsert(context.Background(), []retrieval.Document{
		{ID: "ex-1", Content: "SELECT 1", Metadata: map[string]any{"source": "seed"}},
		{ID: "ex-2", Content: "SELECT 2"},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestUpsertRequiresID(t *testing.T) {
	db, mock := newSQLMock(t)
	index := mustIndex(t, db, fakeEmbedder{vec: []float32{0.5}})
	if err := index.Upsert(context.Background(), []retrieval.Document{{Content: "x"}}); err == nil {
		t.Fatal("expected id required error")
	}
	assertSQLMock(t, mock)
}

func TestStats(t *testing.T) {
	db, mock := newSQLMock(t)
	index := mustIndex(t, db, fakeEmbedder{vec: []float32{1}})
	mock.ExpectQuery(regexp.QuoteMeta(statsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "avg"}).AddRow(42, 180.5))

	stats, err := index.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Documents != 42 || stats.AvgLength != 180.5 {
		t.Fatalf("stats = %+v", stats)
	}
	assertSQLMock(t, mock)
}

func mustIndex(t *testing.T, db *sql.DB, embedder fakeEmbedder) *Index {
	t.Helper()
	index, err := New(db, embedder, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return index
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
