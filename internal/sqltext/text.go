package sqltext

import "strings"

var reserved = toSet(
	"ALL", "AND", "ANY", "ARRAY", "AS", "ASC", "BETWEEN", "BY", "CASE", "CAST", "CROSS",
	"CURRENT", "CURRENT_DATE", "CURRENT_DATETIME", "CURRENT_TIME", "CURRENT_TIMESTAMP",
	"DEFAULT", "DESC", "DISTINCT", "ELSE", "END", "ESCAPE", "EXCEPT", "EXISTS", "EXTRACT",
	"FALSE", "FETCH", "FILTER", "FIRST", "FOLLOWING", "FOR", "FROM", "FULL", "GROUP",
	"GROUPING", "HAVING", "IGNORE", "ILIKE", "IN", "INNER", "INTERSECT", "INTERVAL", "INTO",
	"IS", "JOIN", "LAST", "LATERAL", "LEFT", "LIKE", "LIMIT", "MATERIALIZED", "NATURAL",
	"NEXT", "NOT", "NULL", "NULLS", "OF", "OFFSET", "ON", "ONLY", "OR", "ORDER", "OUTER",
	"OVER", "PARTITION", "PIVOT", "PRECEDING", "QUALIFY", "RANGE", "RECURSIVE", "RESPECT",
	"RIGHT", "ROLLUP", "ROW", "ROWS", "SAFE_CAST", "SELECT", "SET", "SIMILAR", "SOME",
	"STRUCT", "TABLESAMPLE", "THEN", "TRUE", "TRY_CAST", "UNBOUNDED", "UNION", "UNNEST",
	"UNPIVOT", "USING", "VALUES", "WHEN", "WHERE", "WINDOW", "WITH", "WITHIN",
	// statement verbs
	"ALTER", "CALL", "CREATE", "DELETE", "DESCRIBE", "DROP", "EXEC", "EXECUTE", "EXPLAIN",
	"GRANT", "INSERT", "MERGE", "REPLACE", "REVOKE", "SHOW", "TABLE", "TRUNCATE", "UPDATE",
	// date parts and typed literals
	"DATE", "DATETIME", "TIME", "TIMESTAMP", "YEAR", "QUARTER", "MONTH", "WEEK", "DAY",
	"HOUR", "MINUTE", "SECOND", "MILLISECOND", "MICROSECOND", "DAYOFWEEK", "DAYOFYEAR",
	"ISOWEEK", "ISOYEAR",
)

// IsReserved reports whether word is a keyword that can never be an alias or
// column reference in the dialects we generate.
func IsReserved(word string) bool {
	_, ok := reserved[strings.ToUpper(word)]
	return ok
}

// Normalize returns a canonical form of sql for cache keys: comments and
// redundant whitespace removed, bare words lower-cased, literals and quoted
// identifiers kept verbatim, trailing terminators dropped.
func Normalize(sql string) string {
	toks := Tokenize(sql)
	end := len(toks) - 1
	for end > 0 && toks[end-1].IsPunct(";") {
		end--
	}
	var b strings.Builder
	for i := 0; i < end; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		tok := toks[i]
		switch tok.Kind {
		case TokenWord:
			b.WriteString(strings.ToLower(tok.Text))
		case TokenQuoted:
			b.WriteByte(tok.Quote)
			b.WriteString(tok.Text)
			b.WriteByte(tok.Quote)
		default:
			b.WriteString(tok.Text)
		}
	}
	return b.String()
}

// FirstKeyword returns the first bare word of sql, upper-cased, skipping
// leading parentheses. It returns "" when sql starts with anything else.
func FirstKeyword(sql string) string {
	for _, tok := range Tokenize(sql) {
		if tok.IsPunct("(") {
			continue
		}
		if tok.Kind == TokenWord {
			return tok.Upper()
		}
		return ""
	}
	return ""
}

// IsSQLShaped reports whether text reads as a query: it starts with SELECT or
// WITH and contains a FROM clause.
func IsSQLShaped(text string) bool {
	switch FirstKeyword(text) {
	case "SELECT", "WITH":
	default:
		return false
	}
	for _, tok := range Tokenize(text) {
		if tok.IsWord("FROM") {
			return true
		}
	}
	return false
}

// Words returns every bare word of sql upper-cased, in order. Words inside
// string literals, quoted identifiers and comments are not included.
func Words(sql string) []string {
	var out []string
	for _, tok := range Tokenize(sql) {
		if tok.Kind == TokenWord {
			out = append(out, tok.Upper())
		}
	}
	return out
}

// Terminated reports whether the last token of sql is a semicolon.
func Terminated(sql string) bool {
	toks := Tokenize(sql)
	return len(toks) >= 2 && toks[len(toks)-2].IsPunct(";")
}

// HasInnerSeparator reports whether sql contains a statement separator
// anywhere but in final position.
func HasInnerSeparator(sql string) bool {
	toks := Tokenize(sql)
	for i := 0; i < len(toks)-2; i++ {
		if toks[i].IsPunct(";") {
			return true
		}
	}
	return false
}

// Statement returns sql from its first token to its last one, dropping
// leading and trailing comments and trailing semicolons.
func Statement(sql string) string {
	toks := Tokenize(sql)
	end := len(toks) - 1
	for end > 0 && toks[end-1].IsPunct(";") {
		end--
	}
	if end == 0 {
		return ""
	}
	return sql[toks[0].Pos:toks[end-1].End]
}

func toSet(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
