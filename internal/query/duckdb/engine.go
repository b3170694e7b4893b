// Package duckdb runs warehouse jobs with an in-process DuckDB over parquet
// files kept in the object store under <root>/<dataset>/<table>/.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/sqltext"
	"github.com/querypilot/querypilot/internal/storage"
)

type Options struct {
	// Root is the object key prefix of the warehouse.
	Root string
	// Project is the catalog name three-part table names start with.
	Project string
	// DefaultDataset resolves bare table names.
	DefaultDataset string
}

// ErrRelationNotAllowed is returned for queries that read anything but the
// warehouse tables the engine exposes, such as file or network table
// functions.
var ErrRelationNotAllowed = errors.New("relation not allowed")

// computeFunctions are the table functions that read no external data.
var computeFunctions = map[string]struct{}{
	"unnest":          {},
	"range":           {},
	"generate_series": {},
}

type Engine struct {
	Store storage.ObjectStore
	opts  Options
}

func NewEngine(store storage.ObjectStore, opts Options) *Engine {
	if strings.TrimSpace(opts.Project) == "" {
		opts.Project = "warehouse"
	}
	return &Engine{Store: store, opts: opts}
}

type tableFiles struct {
	dataset string
	table   string
	objects []storage.ObjectInfo
}

func (t tableFiles) bytes() int64 {
	var total int64
	for _, obj := range t.objects {
		total += obj.Size
	}
	return total
}

func (e *Engine) Run(ctx context.Context, job query.Job) (query.JobResult, error) {
	if strings.TrimSpace(job.SQL) == "" {
		return query.JobResult{}, fmt.Errorf("sql is required")
	}
	if e.Store == nil {
		return query.JobResult{}, fmt.Errorf("object store is required")
	}

	start := time.Now()
	analysis := sqltext.Analyze(job.SQL)
	if err := checkRelations(analysis); err != nil {
		return query.JobResult{}, err
	}
	tables, err := e.referencedTables(ctx, analysis)
	if err != nil {
		return query.JobResult{}, err
	}
	var scannedBytes int64
	for _, t := range tables {
		scannedBytes += t.bytes()
	}
	if job.MaxBytesBilled > 0 && scannedBytes > job.MaxBytesBilled {
		return query.JobResult{}, fmt.Errorf("%w: %d bytes > %d", query.ErrBytesLimitExceeded, scannedBytes, job.MaxBytesBilled)
	}

	result := query.JobResult{JobID: "duckdb_" + uuid.NewString(), BytesProcessed: scannedBytes}
	if job.DryRun {
		result.Duration = time.Since(start)
		return result, nil
	}

	workDir, err := os.MkdirTemp("", "querypilot-query-")
	if err != nil {
		return query.JobResult{}, fmt.Errorf("create query temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPaths := make(map[string][]string, len(tables))
	for _, t := range tables {
		for index, obj := range t.objects {
			localPath := filepath.Join(workDir, fmt.Sprintf("%s_%s_%d.parquet", sanitizeFileComponent(t.dataset), sanitizeFileComponent(t.table), index))
			if err := e.download(ctx, obj, localPath); err != nil {
				return query.JobResult{}, err
			}
			key := t.dataset + "." + t.table
			localPaths[key] = append(localPaths[key], localPath)
		}
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return query.JobResult{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()
	conn, err := db.Conn(ctx)
	if err != nil {
		return query.JobResult{}, fmt.Errorf("open duckdb connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := e.loadTables(ctx, conn, tables, localPaths); err != nil {
		return query.JobResult{}, err
	}

	sqlText := sqltext.Statement(rewriteBackticks(job.SQL))
	if sqlText == "" {
		return query.JobResult{}, fmt.Errorf("sql is required")
	}
	if job.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (\n%s\n) AS q LIMIT %d", sqlText, job.RowLimit)
	}

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return query.JobResult{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.JobResult{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.JobResult{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.JobResult{}, fmt.Errorf("iterate rows: %w", err)
	}

	result.Columns = columns
	result.Rows = resultRows
	result.BytesBilled = scannedBytes
	result.Duration = time.Since(start)
	return result, nil
}

// checkRelations rejects string-literal relations and table functions other
// than the compute-only ones.
func checkRelations(analysis sqltext.Analysis) error {
	if len(analysis.LiteralRelations) > 0 {
		return fmt.Errorf("%w: %s", ErrRelationNotAllowed, analysis.LiteralRelations[0])
	}
	for _, fn := range analysis.TableFunctions {
		if _, ok := computeFunctions[strings.ToLower(fn)]; !ok {
			return fmt.Errorf("%w: table function %s", ErrRelationNotAllowed, fn)
		}
	}
	return nil
}

// referencedTables lists the data files of every warehouse table the query
// reads. CTEs and subquery aliases are not warehouse tables.
func (e *Engine) referencedTables(ctx context.Context, analysis sqltext.Analysis) ([]tableFiles, error) {
	local := analysis.LocalRelations()
	seen := map[string]struct{}{}
	var out []tableFiles
	for _, ref := range analysis.Tables {
		if _, ok := local[strings.ToLower(ref.Name)]; ok {
			continue
		}
		dataset, table, err := e.resolve(ref)
		if err != nil {
			return nil, err
		}
		key := dataset + "." + table
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		prefix, err := storage.TablePrefix(e.opts.Root, dataset, table)
		if err != nil {
			return nil, err
		}
		objects, err := e.Store.List(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("list table %s: %w", key, err)
		}
		files := tableFiles{dataset: dataset, table: table}
		for _, obj := range objects {
			if storage.IsParquetKey(obj.Key) {
				files.objects = append(files.objects, obj)
			}
		}
		if len(files.objects) == 0 {
			return nil, fmt.Errorf("table %s has no data files", key)
		}
		out = append(out, files)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].dataset+"."+out[i].table < out[j].dataset+"."+out[j].table
	})
	return out, nil
}

func (e *Engine) resolve(ref sqltext.TableRef) (string, string, error) {
	parts := ref.Parts()
	switch len(parts) {
	case 1:
		if e.opts.DefaultDataset == "" {
			return "", "", fmt.Errorf("table %q needs a dataset qualifier", ref.Name)
		}
		return strings.ToLower(e.opts.DefaultDataset), strings.ToLower(parts[0]), nil
	case 2:
		return strings.ToLower(parts[0]), strings.ToLower(parts[1]), nil
	case 3:
		if !strings.EqualFold(parts[0], e.opts.Project) {
			return "", "", fmt.Errorf("unknown project %q in table %q", parts[0], ref.Name)
		}
		return strings.ToLower(parts[1]), strings.ToLower(parts[2]), nil
	}
	return "", "", fmt.Errorf("invalid table name %q", ref.Name)
}

// loadTables copies each table into memory as <project>.<dataset>.<table>,
// makes the default dataset current so shorter names resolve, then turns off
// file and network access for the rest of the session.
func (e *Engine) loadTables(ctx context.Context, conn *sql.Conn, tables []tableFiles, localPaths map[string][]string) error {
	project := quoteIdent(strings.ToLower(e.opts.Project))
	stmts := []string{fmt.Sprintf("ATTACH ':memory:' AS %s", project)}
	schemas := map[string]struct{}{}
	if e.opts.DefaultDataset != "" {
		schemas[strings.ToLower(e.opts.DefaultDataset)] = struct{}{}
	}
	for _, t := range tables {
		schemas[t.dataset] = struct{}{}
	}
	for schema := range schemas {
		stmts = append(stmts, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s.%s", project, quoteIdent(schema)))
	}
	for _, t := range tables {
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE %s.%s.%s AS SELECT * FROM read_parquet(%s)",
			project, quoteIdent(t.dataset), quoteIdent(t.table), quoteStringArray(localPaths[t.dataset+"."+t.table])))
	}
	if e.opts.DefaultDataset != "" {
		stmts = append(stmts, fmt.Sprintf("USE %s.%s", project, quoteIdent(strings.ToLower(e.opts.DefaultDataset))))
	} else {
		stmts = append(stmts, fmt.Sprintf("USE %s", project))
	}
	stmts = append(stmts,
		"SET enable_external_access = false",
		"SET lock_configuration = true",
	)
	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("prepare warehouse tables: %q: %w", stmt, err)
		}
	}
	return nil
}

// rewriteBackticks turns `a.b.c` quoting into per-part double quoting, which
// is what DuckDB understands.
func rewriteBackticks(sqlText string) string {
	toks := sqltext.Tokenize(sqlText)
	var b strings.Builder
	last := 0
	for _, tok := range toks {
		if tok.Kind != sqltext.TokenQuoted || tok.Quote != '`' {
			continue
		}
		end := tok.End
		b.WriteString(sqlText[last:tok.Pos])
		parts := strings.Split(tok.Text, ".")
		for i, part := range parts {
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(quoteIdent(part))
		}
		last = end
	}
	b.WriteString(sqlText[last:])
	return b.String()
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
