// Package catalog is the in-memory schema catalog: the known warehouse
// tables, their columns and types. A Catalog is built once at startup and is
// never mutated, so concurrent readers need no locking.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrNotFound = errors.New("catalog: table not found")

type Column struct {
	Name string
	Type string
	Hint string
}

// EffectiveHint returns the explicit hint, or a coarse hint derived from the type.
func (c Column) EffectiveHint() string {
	if strings.TrimSpace(c.Hint) != "" {
		return strings.TrimSpace(c.Hint)
	}
	return TypeHint(c.Type)
}

type Table struct {
	// QualifiedName is the fully-qualified name, e.g. project.dataset.table.
	QualifiedName string
	Columns       []Column
}

func (t Table) ShortName() string {
	parts := strings.Split(t.QualifiedName, ".")
	return parts[len(parts)-1]
}

// Dataset returns the segment before the short name, or "".
func (t Table) Dataset() string {
	parts := strings.Split(t.QualifiedName, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

func (t Table) Column(name string) (Column, bool) {
	name = unquote(name)
	for _, col := range t.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return Column{}, false
}

type Catalog struct {
	tables []Table
	index  map[string]int
}

// New validates tables and builds a catalog. Qualified names must be unique.
// A short or dataset-qualified name shared by several tables resolves to the
// first in sorted order.
func New(tables []Table) (*Catalog, error) {
	copied := make([]Table, 0, len(tables))
	seen := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		name := strings.TrimSpace(table.QualifiedName)
		if name == "" {
			return nil, fmt.Errorf("table name is required")
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("duplicate table %q", name)
		}
		seen[key] = struct{}{}
		if len(table.Columns) == 0 {
			return nil, fmt.Errorf("table %q has no columns", name)
		}
		cols := make([]Column, len(table.Columns))
		copy(cols, table.Columns)
		copied = append(copied, Table{QualifiedName: name, Columns: cols})
	}
	sort.Slice(copied, func(i, j int) bool {
		return strings.ToLower(copied[i].QualifiedName) < strings.ToLower(copied[j].QualifiedName)
	})

	c := &Catalog{tables: copied, index: make(map[string]int, len(copied)*3)}
	for i, table := range copied {
		parts := strings.Split(strings.ToLower(table.QualifiedName), ".")
		for start := 0; start < len(parts); start++ {
			key := strings.Join(parts[start:], ".")
			if _, exists := c.index[key]; !exists {
				c.index[key] = i
			}
		}
	}
	return c, nil
}

// Lookup resolves a bare name, dataset.table or project.dataset.table,
// case-insensitively, with or without backtick or double-quote quoting.
func (c *Catalog) Lookup(name string) (Table, bool) {
	if c == nil {
		return Table{}, false
	}
	idx, ok := c.index[normalizeName(name)]
	if !ok {
		return Table{}, false
	}
	return c.tables[idx], true
}

func (c *Catalog) Get(name string) (Table, error) {
	table, ok := c.Lookup(name)
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return table, nil
}

// FQN returns the fully-qualified name for any accepted spelling of a table.
func (c *Catalog) FQN(name string) (string, bool) {
	table, ok := c.Lookup(name)
	if !ok {
		return "", false
	}
	return table.QualifiedName, true
}

func (c *Catalog) Column(table, column string) (Column, bool) {
	t, ok := c.Lookup(table)
	if !ok {
		return Column{}, false
	}
	return t.Column(column)
}

// Tables returns all tables sorted by qualified name.
func (c *Catalog) Tables() []Table {
	if c == nil {
		return nil
	}
	out := make([]Table, len(c.tables))
	copy(out, c.tables)
	return out
}

// ShortNames returns the lower-cased, de-duplicated, sorted short names.
func (c *Catalog) ShortNames() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(c.tables))
	out := make([]string, 0, len(c.tables))
	for _, table := range c.tables {
		short := strings.ToLower(table.ShortName())
		if _, ok := seen[short]; ok {
			continue
		}
		seen[short] = struct{}{}
		out = append(out, short)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tables)
}

var quoteStripper = strings.NewReplacer("`", "", "\"", "")

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(quoteStripper.Replace(name)))
}

func unquote(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 2 {
		first, last := name[0], name[len(name)-1]
		if (first == '`' && last == '`') || (first == '"' && last == '"') {
			return name[1 : len(name)-1]
		}
	}
	return name
}
