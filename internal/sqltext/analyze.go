package sqltext

import "strings"

// TableRef is a relation named in a FROM or JOIN clause.
type TableRef struct {
	// Name is the dotted name as written, without quoting.
	Name  string
	Alias string
}

// Parts splits the dotted name.
func (r TableRef) Parts() []string { return strings.Split(r.Name, ".") }

// ShortName is the last segment of the dotted name.
func (r TableRef) ShortName() string {
	parts := r.Parts()
	return parts[len(parts)-1]
}

// ColumnRef is a column reference. Qualifier is the table name or alias it
// was written with, empty when unqualified.
type ColumnRef struct {
	Qualifier string
	Name      string
}

func (c ColumnRef) String() string {
	if c.Qualifier == "" {
		return c.Name
	}
	return c.Qualifier + "." + c.Name
}

// Analysis is a best-effort structural read of one SQL text.
type Analysis struct {
	CTEs []string
	// DerivedAliases names relations defined inside the query itself:
	// subqueries in FROM/JOIN and table-function results such as UNNEST.
	DerivedAliases []string
	Tables         []TableRef
	// TableFunctions are functions called in FROM or JOIN position, such as
	// UNNEST or read_csv, as written.
	TableFunctions []string
	// LiteralRelations are string literals in FROM or JOIN position, which
	// some engines read as file paths.
	LiteralRelations []string
	// OutputAliases are select-list names, with or without AS.
	OutputAliases []string
	Columns       []ColumnRef
}

// LocalRelations returns CTE names and derived aliases, lower-cased.
func (a Analysis) LocalRelations() map[string]struct{} {
	out := make(map[string]struct{}, len(a.CTEs)+len(a.DerivedAliases))
	for _, name := range a.CTEs {
		out[strings.ToLower(name)] = struct{}{}
	}
	for _, name := range a.DerivedAliases {
		out[strings.ToLower(name)] = struct{}{}
	}
	return out
}

// CTENames returns the names introduced by WITH clauses anywhere in sql.
func CTENames(sql string) []string { return Analyze(sql).CTEs }

// Analyze tokenizes sql once and extracts relations, aliases and columns.
func Analyze(sql string) Analysis {
	s := newScan(Tokenize(sql))
	var out Analysis
	out.CTEs = s.ctes()
	out.DerivedAliases = s.derivedAliases()
	tables, functions, literals, functionAliases := s.tableRefs()
	out.Tables = tables
	out.TableFunctions = functions
	out.LiteralRelations = literals
	out.DerivedAliases = appendUnique(out.DerivedAliases, functionAliases...)
	out.OutputAliases = s.outputAliases()
	out.Columns = s.columns(out)
	return out
}

type scan struct {
	toks []Token
	// match maps each parenthesis to its partner; unbalanced ones map to EOF.
	match []int
	// enclosing is the index of the innermost open paren around each token, or -1.
	enclosing []int
	used      []bool
}

func newScan(toks []Token) *scan {
	s := &scan{
		toks:      toks,
		match:     make([]int, len(toks)),
		enclosing: make([]int, len(toks)),
		used:      make([]bool, len(toks)),
	}
	eof := len(toks) - 1
	var stack []int
	for i, tok := range toks {
		s.match[i] = -1
		if len(stack) > 0 {
			s.enclosing[i] = stack[len(stack)-1]
		} else {
			s.enclosing[i] = -1
		}
		switch {
		case tok.IsPunct("("):
			stack = append(stack, i)
		case tok.IsPunct(")"):
			if len(stack) > 0 {
				open := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				s.match[open] = i
				s.match[i] = open
			}
		}
	}
	for _, open := range stack {
		s.match[open] = eof
	}
	return s
}

func (s *scan) at(i int) Token {
	if i < 0 || i >= len(s.toks) {
		return Token{Kind: TokenEOF}
	}
	return s.toks[i]
}

// closeOf returns the index just past the group opened at i.
func (s *scan) closeOf(i int) int {
	if i < 0 || i >= len(s.match) || s.match[i] < 0 {
		return i + 1
	}
	return s.match[i] + 1
}

func (s *scan) isSubqueryOpen(i int) bool {
	if !s.at(i).IsPunct("(") {
		return false
	}
	next := s.at(i + 1)
	return next.IsWord("SELECT") || next.IsWord("WITH")
}

// inQueryScope reports whether token i sits at top level or directly inside a
// subquery, as opposed to inside a function call like EXTRACT(YEAR FROM x).
func (s *scan) inQueryScope(i int) bool {
	open := s.enclosing[i]
	return open < 0 || s.isSubqueryOpen(open)
}

func (s *scan) ctes() []string {
	var out []string
	for i, tok := range s.toks {
		if !tok.IsWord("WITH") || !s.inQueryScope(i) {
			continue
		}
		j := i + 1
		if s.at(j).IsWord("RECURSIVE") {
			j++
		}
		for s.at(j).IsIdent() {
			nameIdx := j
			j++
			if s.at(j).IsPunct("(") {
				j = s.closeOf(j)
			}
			if !s.at(j).IsWord("AS") {
				break
			}
			j++
			if s.at(j).IsWord("NOT") {
				j++
			}
			if s.at(j).IsWord("MATERIALIZED") {
				j++
			}
			if !s.at(j).IsPunct("(") {
				break
			}
			s.used[nameIdx] = true
			out = appendUnique(out, s.toks[nameIdx].Text)
			j = s.closeOf(j)
			if !s.at(j).IsPunct(",") {
				break
			}
			j++
		}
	}
	return out
}

func (s *scan) derivedAliases() []string {
	var out []string
	for i := range s.toks {
		if !s.isSubqueryOpen(i) {
			continue
		}
		prev := s.at(i - 1)
		if !(prev.IsWord("FROM") || prev.IsWord("JOIN") || prev.IsWord("LATERAL") || prev.IsPunct(",")) {
			continue
		}
		if alias, idx := s.aliasAt(s.closeOf(i)); alias != "" {
			s.used[idx] = true
			out = appendUnique(out, alias)
		}
	}
	return out
}

// aliasAt reads an optional relation alias starting at j. It returns the
// alias and the index of its token.
func (s *scan) aliasAt(j int) (string, int) {
	tok := s.at(j)
	if tok.IsWord("AS") {
		next := s.at(j + 1)
		if next.IsIdent() && !(next.Kind == TokenWord && IsReserved(next.Text)) {
			return next.Text, j + 1
		}
		return "", j
	}
	if tok.Kind == TokenQuoted || (tok.Kind == TokenWord && !IsReserved(tok.Text)) {
		return tok.Text, j
	}
	return "", j
}

// qualifiedAt reads a dotted identifier starting at j. Quoted segments may
// contain dots themselves. It returns the segments and the next index.
func (s *scan) qualifiedAt(j int) ([]string, int) {
	var parts []string
	tok := s.at(j)
	if !tok.IsIdent() {
		return nil, j
	}
	parts = append(parts, splitQuoted(tok)...)
	j++
	for s.at(j).IsPunct(".") && s.at(j+1).IsIdent() {
		parts = append(parts, splitQuoted(s.at(j+1))...)
		j += 2
	}
	return parts, j
}

func splitQuoted(tok Token) []string {
	if tok.Kind == TokenQuoted && tok.Quote == '`' {
		return strings.Split(tok.Text, ".")
	}
	return []string{tok.Text}
}

func (s *scan) tableRefs() (refs []TableRef, functions, literals, functionAliases []string) {
	for i, tok := range s.toks {
		isFrom := tok.IsWord("FROM")
		if !(isFrom || tok.IsWord("JOIN")) || !s.inQueryScope(i) {
			continue
		}
		if isFrom && s.at(i-1).IsWord("DISTINCT") {
			continue
		}
		j := i + 1
		for {
			if s.at(j).IsWord("LATERAL") {
				j++
			}
			var alias string
			var aliasIdx int
			switch {
			case s.at(j).IsPunct("("):
				next := s.closeOf(j)
				if alias, aliasIdx = s.aliasAt(next); alias != "" {
					next = aliasIdx + 1
				}
				j = next
			case s.at(j).IsIdent():
				start := j
				parts, next := s.qualifiedAt(j)
				if s.at(next).IsPunct("(") {
					functions = appendUnique(functions, strings.Join(parts, "."))
					next = s.closeOf(next)
					alias, aliasIdx = s.aliasAt(next)
					if alias != "" {
						s.used[aliasIdx] = true
						functionAliases = appendUnique(functionAliases, alias)
						next = aliasIdx + 1
					}
					s.markUsed(start, next)
					j = next
					break
				}
				if s.at(start).Kind == TokenWord && IsReserved(s.at(start).Text) {
					j = next
					break
				}
				ref := TableRef{Name: strings.Join(parts, ".")}
				alias, aliasIdx = s.aliasAt(next)
				if alias != "" {
					ref.Alias = alias
					next = aliasIdx + 1
				}
				s.markUsed(start, next)
				refs = append(refs, ref)
				j = next
			case s.at(j).Kind == TokenString:
				literals = append(literals, s.at(j).Text)
				j = -1
			default:
				j = -1
			}
			if j < 0 || !isFrom || !s.at(j).IsPunct(",") {
				break
			}
			j++
		}
	}
	return refs, functions, literals, functionAliases
}

func (s *scan) markUsed(from, to int) {
	for k := from; k < to && k < len(s.used); k++ {
		s.used[k] = true
	}
}

func (s *scan) outputAliases() []string {
	var out []string
	for i, tok := range s.toks {
		if !tok.IsWord("AS") || s.used[i+1] {
			continue
		}
		next := s.at(i + 1)
		if !next.IsIdent() || s.at(i+2).IsPunct("(") {
			continue
		}
		if next.Kind == TokenWord && IsReserved(next.Text) {
			continue
		}
		if open := s.enclosing[i]; open >= 0 {
			fn := s.at(open - 1)
			if fn.IsWord("CAST") || fn.IsWord("SAFE_CAST") || fn.IsWord("TRY_CAST") {
				s.used[i+1] = true
				continue
			}
		}
		s.used[i+1] = true
		out = appendUnique(out, next.Text)
	}
	// implicit aliases: "expr alias," and "expr alias FROM"
	for i, tok := range s.toks {
		if s.used[i] || !tok.IsIdent() || (tok.Kind == TokenWord && IsReserved(tok.Text)) {
			continue
		}
		if !endsExpression(s.at(i-1)) || s.at(i+1).IsPunct(".") {
			continue
		}
		next := s.at(i + 1)
		if !(next.IsPunct(",") || next.IsWord("FROM")) {
			continue
		}
		s.used[i] = true
		out = appendUnique(out, tok.Text)
	}
	return out
}

func endsExpression(tok Token) bool {
	switch tok.Kind {
	case TokenNumber, TokenString, TokenQuoted:
		return true
	case TokenWord:
		return tok.IsWord("END") || !IsReserved(tok.Text)
	case TokenPunct:
		return tok.Text == ")"
	}
	return false
}

func (s *scan) columns(a Analysis) []ColumnRef {
	local := a.LocalRelations()
	aliases := make(map[string]struct{}, len(a.OutputAliases)+len(a.Tables))
	for _, name := range a.OutputAliases {
		aliases[strings.ToLower(name)] = struct{}{}
	}
	for _, ref := range a.Tables {
		if ref.Alias != "" {
			aliases[strings.ToLower(ref.Alias)] = struct{}{}
		}
	}

	var out []ColumnRef
	seen := map[string]struct{}{}
	add := func(ref ColumnRef) {
		key := strings.ToLower(ref.String())
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, ref)
	}

	for i := 0; i < len(s.toks); i++ {
		tok := s.toks[i]
		if s.used[i] || !tok.IsIdent() {
			continue
		}
		if s.at(i-1).IsPunct("::") || s.at(i-1).IsPunct(".") {
			continue
		}
		parts, next := s.qualifiedAt(i)
		if s.at(next).IsPunct(".") && s.at(next+1).IsPunct("*") {
			i = next + 1
			continue
		}
		if s.at(next).IsPunct("(") || s.at(next).IsPunct("=>") {
			i = next - 1
			continue
		}
		if len(parts) >= 2 {
			add(ColumnRef{Qualifier: strings.Join(parts[:len(parts)-1], "."), Name: parts[len(parts)-1]})
			i = next - 1
			continue
		}
		if tok.Kind == TokenWord && IsReserved(tok.Text) {
			continue
		}
		if tok.Kind == TokenQuoted && tok.Quote == '"' {
			continue
		}
		lower := strings.ToLower(tok.Text)
		if _, ok := local[lower]; ok {
			continue
		}
		if _, ok := aliases[lower]; ok {
			continue
		}
		add(ColumnRef{Name: tok.Text})
	}
	return out
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		dup := false
		for _, existing := range list {
			if strings.EqualFold(existing, v) {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, v)
		}
	}
	return list
}
