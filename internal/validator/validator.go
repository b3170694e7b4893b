// Package validator checks generated SQL against the schema catalog: every
// referenced table must exist, columns of known tables must exist, and a few
// dialect pitfalls are flagged as warnings.
package validator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/querypilot/querypilot/internal/apperr"
	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/sqltext"
)

// Result is the outcome of one validation. IsValid is true exactly when
// Errors is empty; warnings never affect it.
type Result struct {
	IsValid      bool     `json:"is_valid"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	TablesFound  []string `json:"tables_found"`
	ColumnsFound []string `json:"columns_found"`
}

type Options struct {
	// StrictDerivedAliases checks subquery and table-function aliases against
	// the catalog like any other relation. By default they are excluded and
	// reported as warnings.
	StrictDerivedAliases bool
	Logger               *slog.Logger
}

type Validator struct {
	catalog *catalog.Catalog
	parsers []Parser
	cache   *ParseCache
	opts    Options
	logger  *slog.Logger
}

// New builds a validator. Parsers are tried in order and the deterministic
// token parser is always appended as the last resort. A nil cache disables
// caching.
func New(cat *catalog.Catalog, cache *ParseCache, opts Options, parsers ...Parser) (*Validator, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	chain := make([]Parser, 0, len(parsers)+1)
	for _, p := range parsers {
		if p != nil {
			chain = append(chain, p)
		}
	}
	chain = append(chain, TokenParser{})
	return &Validator{catalog: cat, parsers: chain, cache: cache, opts: opts, logger: logger}, nil
}

type state int

const (
	stateNotStarted state = iota
	stateParsed
	stateChecked
	stateDone
)

func (s state) String() string {
	switch s {
	case stateNotStarted:
		return "not_started"
	case stateParsed:
		return "parsed"
	case stateChecked:
		return "checked"
	case stateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// run carries one validation through its states. Each step may only run
// from the state before it.
type run struct {
	v     *Validator
	state state
	sql   string

	local    sqltext.Analysis
	parsed   Parsed
	resolved map[string]catalog.Table
	ctes     map[string]struct{}
	derived  map[string]struct{}
	missing  map[string]struct{}
	result   Result
	errSeen  map[string]struct{}
	warnSeen map[string]struct{}

	// missingQualifier maps the short name of each missing table to the
	// most specific qualifier it was written with.
	missingQualifier map[string]string
}

func (r *run) advance(from, to state) {
	if r.state != from {
		panic(fmt.Sprintf("validator: transition %s -> %s from state %s", from, to, r.state))
	}
	r.state = to
}

func (r *run) addError(msg string) {
	key := strings.ToLower(msg)
	if _, ok := r.errSeen[key]; ok {
		return
	}
	r.errSeen[key] = struct{}{}
	r.result.Errors = append(r.result.Errors, msg)
}

func (r *run) addWarning(msg string) {
	key := strings.ToLower(msg)
	if _, ok := r.warnSeen[key]; ok {
		return
	}
	r.warnSeen[key] = struct{}{}
	r.result.Warnings = append(r.result.Warnings, msg)
}

// Validate checks sql. It never returns an error: parse failures fall back
// to the deterministic parser and schema mismatches become result errors.
func (v *Validator) Validate(ctx context.Context, sql string) Result {
	r := &run{
		v:        v,
		sql:      sql,
		resolved: make(map[string]catalog.Table),
		ctes:     make(map[string]struct{}),
		derived:  make(map[string]struct{}),
		missing:  make(map[string]struct{}),
		errSeen:  make(map[string]struct{}),
		warnSeen: make(map[string]struct{}),

		missingQualifier: make(map[string]string),
	}
	if strings.TrimSpace(sql) == "" {
		r.addError("SQL is empty")
		r.state = stateDone
		return r.finish()
	}
	r.parse(ctx)
	r.check()
	r.dialect()
	return r.finish()
}

func (r *run) parse(ctx context.Context) {
	r.local = sqltext.Analyze(r.sql)
	r.parsed = r.v.parseOnce(ctx, r.sql)
	r.advance(stateNotStarted, stateParsed)
}

func (v *Validator) parseOnce(ctx context.Context, sql string) Parsed {
	parse := func() (Parsed, bool, error) {
		for _, p := range v.parsers {
			parsed, err := p.Parse(ctx, sql)
			if err == nil {
				return parsed, p.Cacheable(), nil
			}
			v.logger.Warn("sql parse failed, falling back",
				"parser", p.Name(),
				"error", apperr.Wrap(apperr.Validation, "parse failed", err))
		}
		return Parsed{}, false, nil
	}
	if v.cache == nil {
		parsed, _, _ := parse()
		return parsed
	}
	parsed, _, _ := v.cache.Load(sqltext.Normalize(sql), parse)
	return parsed
}

func (r *run) check() {
	for _, name := range r.local.CTEs {
		r.ctes[strings.ToLower(name)] = struct{}{}
	}
	for _, name := range r.local.DerivedAliases {
		r.derived[strings.ToLower(name)] = struct{}{}
	}

	seen := make(map[string]struct{})
	for _, ref := range r.parsed.Tables {
		key := strings.ToLower(ref.Name)
		if _, ok := r.ctes[key]; ok {
			r.alias(ref, catalog.Table{})
			continue
		}
		if _, ok := r.derived[key]; ok && !r.v.opts.StrictDerivedAliases {
			r.alias(ref, catalog.Table{})
			r.addWarning(fmt.Sprintf("Relation '%s' is defined inside the query (subquery or table function) and was not checked against the schema", ref.Name))
			continue
		}
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			r.result.TablesFound = append(r.result.TablesFound, key)
		}
		table, ok := r.v.catalog.Lookup(ref.Name)
		if !ok {
			r.missing[key] = struct{}{}
			if ref.Alias != "" {
				r.missing[strings.ToLower(ref.Alias)] = struct{}{}
			}
			r.reportMissing(ref)
			continue
		}
		r.alias(ref, table)
		if msg, ok := bareNameWarning(ref.Name, table); ok {
			r.addWarning(msg)
		}
	}
	sort.Strings(r.result.TablesFound)

	r.checkColumns()
	r.advance(stateParsed, stateChecked)
}

// reportMissing adds one error per missing table. Spellings of the same
// short name whose qualifiers do not conflict, such as ghost and shop.ghost,
// count as one table.
func (r *run) reportMissing(ref sqltext.TableRef) {
	short := strings.ToLower(ref.ShortName())
	qualifier := strings.TrimSuffix(strings.TrimSuffix(strings.ToLower(ref.Name), short), ".")
	if seen, ok := r.missingQualifier[short]; ok {
		if seen == "" || qualifier == "" || qualifierCovers(seen, qualifier) {
			if len(qualifier) > len(seen) {
				r.missingQualifier[short] = qualifier
			}
			return
		}
	} else {
		r.missingQualifier[short] = qualifier
	}
	r.addError(fmt.Sprintf("Table '%s' not found in schema", ref.Name))
}

// qualifierCovers reports whether one qualifier is a suffix of the other,
// as with shop and demo.shop.
func qualifierCovers(a, b string) bool {
	if len(a) < len(b) {
		a, b = b, a
	}
	return a == b || strings.HasSuffix(a, "."+b)
}

// isLocal reports whether name is defined by the query itself.
func (r *run) isLocal(name string) bool {
	if _, ok := r.ctes[name]; ok {
		return true
	}
	_, ok := r.derived[name]
	return ok
}

// alias records the qualifiers a table can be referenced by. A zero table
// marks a local relation whose columns cannot be checked.
// A local relation always wins over a catalog table of the same name, so
// qualifiers naming a CTE or derived alias are never checked against the
// catalog.
func (r *run) alias(ref sqltext.TableRef, table catalog.Table) {
	alias := strings.ToLower(ref.Alias)
	keys := []string{strings.ToLower(ref.Name), strings.ToLower(ref.ShortName())}
	if alias != "" {
		keys = append(keys, alias)
	}
	for _, key := range keys {
		if table.QualifiedName != "" && key != alias && r.isLocal(key) {
			continue
		}
		r.resolved[key] = table
	}
}

func (r *run) checkColumns() {
	outputs := make(map[string]struct{})
	for _, alias := range append(append([]string(nil), r.local.OutputAliases...), r.parsed.OutputAliases...) {
		outputs[strings.ToLower(alias)] = struct{}{}
	}
	var known []catalog.Table
	for _, table := range r.resolved {
		if table.QualifiedName != "" {
			known = append(known, table)
		}
	}
	// Unqualified columns can only be judged when every relation in scope
	// is a catalog table.
	judgeUnqualified := len(known) > 0 && len(r.missing) == 0 && len(r.ctes) == 0 && len(r.derived) == 0

	seen := make(map[string]struct{})
	for _, col := range r.parsed.Columns {
		label := strings.ToLower(col.String())
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}

		if col.Qualifier == "" {
			if _, ok := outputs[strings.ToLower(col.Name)]; ok {
				continue
			}
			r.result.ColumnsFound = append(r.result.ColumnsFound, col.Name)
			if !judgeUnqualified || inAny(known, col.Name) {
				continue
			}
			r.addWarning(fmt.Sprintf("Column '%s' not found in any referenced table", col.Name))
			continue
		}

		r.result.ColumnsFound = append(r.result.ColumnsFound, col.String())
		table, ok := r.qualifierTable(col.Qualifier)
		if !ok {
			continue
		}
		if _, ok := table.Column(col.Name); !ok {
			r.addError(fmt.Sprintf("Column '%s' not found in table '%s'", col.Name, table.QualifiedName))
		}
	}
}

func (r *run) qualifierTable(qualifier string) (catalog.Table, bool) {
	table, ok := r.resolved[strings.ToLower(qualifier)]
	return table, ok && table.QualifiedName != ""
}

func inAny(tables []catalog.Table, column string) bool {
	for _, table := range tables {
		if _, ok := table.Column(column); ok {
			return true
		}
	}
	return false
}

func (r *run) dialect() {
	ts, dt := timeFamilies(r.sql)
	var cols []catalog.Column
	for _, col := range r.parsed.Columns {
		if col.Qualifier != "" {
			if table, ok := r.qualifierTable(col.Qualifier); ok {
				if c, ok := table.Column(col.Name); ok {
					cols = append(cols, c)
				}
			}
			continue
		}
		for _, table := range r.resolved {
			if c, ok := table.Column(col.Name); ok {
				cols = append(cols, c)
			}
		}
	}
	cts, cdt := columnTimeFamilies(cols)
	if (ts || cts) && (dt || cdt) {
		r.addWarning(mixedTimeWarning)
	}
	r.advance(stateChecked, stateDone)
}

func (r *run) finish() Result {
	if r.state != stateDone {
		panic(fmt.Sprintf("validator: finish from state %s", r.state))
	}
	out := r.result
	out.IsValid = len(out.Errors) == 0
	if out.Errors == nil {
		out.Errors = []string{}
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	if out.TablesFound == nil {
		out.TablesFound = []string{}
	}
	if out.ColumnsFound == nil {
		out.ColumnsFound = []string{}
	}
	observability.ObserveValidation(out.IsValid)
	return out
}
