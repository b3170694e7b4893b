// Package corpus reads and writes the example question/SQL corpus and loads
// it into a retrieval index.
package corpus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/querypilot/querypilot/internal/retrieval"
	"github.com/querypilot/querypilot/internal/storage"
)

// documentNamespace seeds the stable ids of examples stored without one.
var documentNamespace = uuid.MustParse("6f1c9a52-3c0e-4f57-9a8e-2f4d7a1b5e10")

type Example struct {
	ID       string   `parquet:"id" json:"id"`
	Question string   `parquet:"question" json:"question"`
	SQL      string   `parquet:"sql" json:"sql"`
	Tags     []string `parquet:"tags,list" json:"tags,omitempty"`
}

// DocumentID returns the example id, or a stable id derived from its
// question and SQL.
func (e Example) DocumentID() string {
	if id := strings.TrimSpace(e.ID); id != "" {
		return id
	}
	key := strings.TrimSpace(e.Question) + "\x00" + strings.TrimSpace(e.SQL)
	return uuid.NewSHA1(documentNamespace, []byte(key)).String()
}

// Document renders the example the way retrieval and table extraction expect
// it: a question comment line followed by the SQL.
func (e Example) Document() retrieval.Document {
	metadata := map[string]any{"question": strings.TrimSpace(e.Question)}
	if len(e.Tags) > 0 {
		tags := make([]any, 0, len(e.Tags))
		for _, tag := range e.Tags {
			tags = append(tags, tag)
		}
		metadata["tags"] = tags
	}
	return retrieval.Document{
		ID:       e.DocumentID(),
		Content:  "-- Question: " + strings.TrimSpace(e.Question) + "\n" + strings.TrimSpace(e.SQL),
		Metadata: metadata,
	}
}

func Encode(examples []Example) ([]byte, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("examples are required")
	}
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[Example](buf)
	if _, err := writer.Write(examples); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func Decode(data []byte) ([]Example, error) {
	rows, err := parquet.Read[Example](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read corpus parquet: %w", err)
	}
	return rows, nil
}

// Load reads a corpus from a local path or, for s3:// URIs, from store.
func Load(ctx context.Context, source string, store storage.ObjectStore) ([]Example, error) {
	var data []byte
	if key, ok := storage.ObjectKeyFromURI(source); ok {
		if store == nil {
			return nil, fmt.Errorf("object store is required for corpus source %q", source)
		}
		body, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get corpus object %q: %w", key, err)
		}
		defer func() { _ = body.Close() }()
		data, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read corpus object %q: %w", key, err)
		}
	} else {
		var err error
		data, err = os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("read corpus file: %w", err)
		}
	}
	return Decode(data)
}

// Save writes examples to an object store key or s3:// URI.
func Save(ctx context.Context, target string, store storage.ObjectStore, examples []Example) (storage.ObjectInfo, error) {
	if store == nil {
		return storage.ObjectInfo{}, fmt.Errorf("object store is required")
	}
	key := strings.TrimSpace(target)
	if uriKey, ok := storage.ObjectKeyFromURI(target); ok {
		key = uriKey
	}
	if key == "" {
		return storage.ObjectInfo{}, fmt.Errorf("corpus key is required")
	}
	data, err := Encode(examples)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: "application/vnd.apache.parquet"})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put corpus object %q: %w", key, err)
	}
	return info, nil
}
