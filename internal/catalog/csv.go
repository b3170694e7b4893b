package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/querypilot/querypilot/internal/storage"
)

// ReadCSV parses a schema file with the header table_name,column_name,data_type
// and an optional hint column. Rows are grouped by table in file order.
func ReadCSV(r io.Reader) ([]Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("schema csv is empty")
		}
		return nil, fmt.Errorf("read schema csv header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, required := range []string{"table_name", "column_name", "data_type"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("schema csv header missing %q", required)
		}
	}
	hintIdx, hasHint := cols["hint"]

	var tables []Table
	position := map[string]int{}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read schema csv line %d: %w", line, err)
		}
		field := func(idx int) string {
			if idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}
		tableName := field(cols["table_name"])
		columnName := field(cols["column_name"])
		if tableName == "" && columnName == "" {
			continue
		}
		if tableName == "" || columnName == "" {
			return nil, fmt.Errorf("schema csv line %d: table_name and column_name are required", line)
		}
		col := Column{Name: columnName, Type: strings.ToUpper(field(cols["data_type"]))}
		if hasHint {
			col.Hint = field(hintIdx)
		}
		key := strings.ToLower(tableName)
		idx, ok := position[key]
		if !ok {
			idx = len(tables)
			position[key] = idx
			tables = append(tables, Table{QualifiedName: tableName})
		}
		tables[idx].Columns = append(tables[idx].Columns, col)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("schema csv has no rows")
	}
	return tables, nil
}

// LoadCSV reads a schema CSV from a local path or, for s3:// URIs, from store.
func LoadCSV(ctx context.Context, source string, store storage.ObjectStore) (*Catalog, error) {
	var r io.ReadCloser
	if key, ok := storage.ObjectKeyFromURI(source); ok {
		if store == nil {
			return nil, fmt.Errorf("object store is required for schema source %q", source)
		}
		body, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get schema object %q: %w", key, err)
		}
		r = body
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("open schema file: %w", err)
		}
		r = f
	}
	defer func() { _ = r.Close() }()

	tables, err := ReadCSV(r)
	if err != nil {
		return nil, err
	}
	return New(tables)
}

// WriteCSV serialises tables in the format ReadCSV accepts.
func WriteCSV(w io.Writer, tables []Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"table_name", "column_name", "data_type", "hint"}); err != nil {
		return err
	}
	for _, table := range tables {
		for _, col := range table.Columns {
			if err := writer.Write([]string{table.QualifiedName, col.Name, col.Type, col.Hint}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}
