package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/catalog"
)

const columnsQuery = `
SELECT c.table_name, c.column_name, UPPER(c.data_type),
       COALESCE(col_description(format('%I.%I', c.table_schema, c.table_name)::regclass::oid, c.ordinal_position::int), '')
FROM information_schema.columns c
WHERE c.table_schema = $1
ORDER BY c.table_name, c.ordinal_position`

// Introspector reads table definitions from a Postgres warehouse. Column
// comments become hints.
type Introspector struct {
	db *sql.DB
	// Project prefixes qualified names so they read project.schema.table.
	Project string
}

func NewIntrospector(db *sql.DB, project string) *Introspector {
	return &Introspector{db: db, Project: strings.TrimSpace(project)}
}

// Tables lists every table of the given schemas in schema order.
func (i *Introspector) Tables(ctx context.Context, schemas []string) ([]catalog.Table, error) {
	if len(schemas) == 0 {
		return nil, fmt.Errorf("at least one schema is required")
	}
	var out []catalog.Table
	for _, schema := range schemas {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			continue
		}
		tables, err := i.schemaTables(ctx, schema)
		if err != nil {
			return nil, err
		}
		out = append(out, tables...)
	}
	return out, nil
}

func (i *Introspector) schemaTables(ctx context.Context, schema string) ([]catalog.Table, error) {
	rows, err := i.db.QueryContext(ctx, columnsQuery, schema)
	if err != nil {
		return nil, fmt.Errorf("query information_schema for %q: %w", schema, err)
	}
	defer func() { _ = rows.Close() }()

	var out []catalog.Table
	current := ""
	for rows.Next() {
		var tableName string
		var col catalog.Column
		if err := rows.Scan(&tableName, &col.Name, &col.Type, &col.Hint); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		if tableName != current {
			out = append(out, catalog.Table{QualifiedName: i.qualify(schema, tableName)})
			current = tableName
		}
		out[len(out)-1].Columns = append(out[len(out)-1].Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return out, nil
}

func (i *Introspector) qualify(schema, table string) string {
	if i.Project == "" {
		return schema + "." + table
	}
	return i.Project + "." + schema + "." + table
}

// Load introspects schemas and builds a catalog.
func (i *Introspector) Load(ctx context.Context, schemas []string) (*catalog.Catalog, error) {
	tables, err := i.Tables(ctx, schemas)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables found in schemas %s", strings.Join(schemas, ","))
	}
	return catalog.New(tables)
}
