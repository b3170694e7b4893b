package nl2sql

import (
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/catalog"
)

const dialectRequirements = `Dialect requirements:
- Reference every table by its fully-qualified name in backticks, e.g. ` + "`project.dataset.table`" + `.
- TIMESTAMP and DATETIME are different types. Use TIMESTAMP_* functions on TIMESTAMP columns and DATETIME_* functions on DATETIME columns; cast explicitly before comparing them.
- Only use the tables and columns listed above.
- Return a single read-only statement (SELECT or WITH) terminated by ;.`

// SchemaBlock is the schema section of a prompt and the short name to
// fully-qualified name map for the same tables.
type SchemaBlock struct {
	Text string
	FQN  map[string]string
}

type SchemaInjector struct {
	catalog *catalog.Catalog
}

func NewSchemaInjector(cat *catalog.Catalog) (*SchemaInjector, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	return &SchemaInjector{catalog: cat}, nil
}

// Build describes the tables in set that the catalog knows. Unknown names are
// omitted without error.
func (i *SchemaInjector) Build(tables TableSet) SchemaBlock {
	fqn := make(map[string]string, len(tables))
	var b strings.Builder
	for _, name := range tables {
		table, ok := i.catalog.Lookup(name)
		if !ok {
			continue
		}
		fqn[name] = table.QualifiedName
		if b.Len() == 0 {
			b.WriteString("Schema:\n")
		}
		fmt.Fprintf(&b, "Table `%s`:\n", table.QualifiedName)
		for _, col := range table.Columns {
			fmt.Fprintf(&b, "  - %s %s", col.Name, col.Type)
			if hint := col.EffectiveHint(); hint != "" {
				fmt.Fprintf(&b, " (%s)", hint)
			}
			b.WriteByte('\n')
		}
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(dialectRequirements)
	return SchemaBlock{Text: b.String(), FQN: fqn}
}
