// Package seed generates a small deterministic e-commerce warehouse with its
// schema CSV and example corpus, so the pipeline can be tried end to end.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/corpus"
	"github.com/querypilot/querypilot/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

type Summary struct {
	Users      int
	Orders     int
	OrderItems int
	Examples   int
	Keys       []string
}

type Service struct {
	cfg   Config
	store storage.ObjectStore
	log   *slog.Logger
}

func NewService(cfg Config, store storage.ObjectStore, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if strings.TrimSpace(cfg.Project) == "" || strings.TrimSpace(cfg.Dataset) == "" {
		return nil, fmt.Errorf("project and dataset are required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{cfg: cfg, store: store, log: logger}, nil
}

// Run writes the three tables, the schema CSV and the example corpus.
// Re-running with the same config overwrites the same keys with the same bytes.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	data := NewGenerator(s.cfg).Generate()
	summary := Summary{Users: len(data.Users), Orders: len(data.Orders), OrderItems: len(data.OrderItems)}

	writes := []struct {
		table string
		write func() ([]byte, error)
	}{
		{"users", func() ([]byte, error) { return encodeRows(data.Users) }},
		{"orders", func() ([]byte, error) { return encodeRows(data.Orders) }},
		{"order_items", func() ([]byte, error) { return encodeRows(data.OrderItems) }},
	}
	for _, w := range writes {
		key, err := storage.TableFilePath(s.cfg.Root, s.cfg.Dataset, w.table, 0)
		if err != nil {
			return Summary{}, err
		}
		body, err := w.write()
		if err != nil {
			return Summary{}, fmt.Errorf("encode %s: %w", w.table, err)
		}
		if err := s.put(ctx, key, body, parquetContentType); err != nil {
			return Summary{}, err
		}
		summary.Keys = append(summary.Keys, key)
		s.log.Info("wrote demo table", slog.String("table", w.table), slog.String("key", key), slog.Int("bytes", len(body)))
	}

	schemaKey, err := objectKey(s.cfg.SchemaURI)
	if err != nil {
		return Summary{}, fmt.Errorf("schema target: %w", err)
	}
	var csvBody bytes.Buffer
	if err := catalog.WriteCSV(&csvBody, Tables(s.cfg.Project, s.cfg.Dataset)); err != nil {
		return Summary{}, fmt.Errorf("encode schema csv: %w", err)
	}
	if err := s.put(ctx, schemaKey, csvBody.Bytes(), "text/csv"); err != nil {
		return Summary{}, err
	}
	summary.Keys = append(summary.Keys, schemaKey)

	examples := Examples(s.cfg.Project, s.cfg.Dataset)
	info, err := corpus.Save(ctx, s.cfg.CorpusURI, s.store, examples)
	if err != nil {
		return Summary{}, err
	}
	summary.Examples = len(examples)
	summary.Keys = append(summary.Keys, info.Key)

	s.log.Info("demo seed complete",
		slog.Int("users", summary.Users),
		slog.Int("orders", summary.Orders),
		slog.Int("order_items", summary.OrderItems),
		slog.Int("examples", summary.Examples),
	)
	return summary, nil
}

func (s *Service) put(ctx context.Context, key string, body []byte, contentType string) error {
	if _, err := s.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), storage.PutOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func encodeRows[T any](rows []T) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func objectKey(target string) (string, error) {
	if key, ok := storage.ObjectKeyFromURI(target); ok {
		return key, nil
	}
	key := strings.Trim(strings.TrimSpace(target), "/")
	if key == "" || strings.Contains(target, "://") {
		return "", fmt.Errorf("invalid object target %q", target)
	}
	return key, nil
}
