package validator

import (
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/sqltext"
)

const mixedTimeWarning = "Query mixes TIMESTAMP and DATETIME semantics; cast explicitly to one type before comparing or truncating"

// timeFamilies reports which of the TIMESTAMP and DATETIME families the
// statement uses, from its function names, typed literals and casts.
func timeFamilies(sql string) (timestamp, datetime bool) {
	for _, word := range sqltext.Words(sql) {
		switch {
		case strings.HasPrefix(word, "TIMESTAMP"), strings.HasPrefix(word, "CURRENT_TIMESTAMP"):
			timestamp = true
		case strings.HasPrefix(word, "DATETIME"), strings.HasPrefix(word, "CURRENT_DATETIME"):
			datetime = true
		}
	}
	return timestamp, datetime
}

// columnTimeFamilies adds the families of referenced catalog columns.
func columnTimeFamilies(cols []catalog.Column) (timestamp, datetime bool) {
	for _, col := range cols {
		if catalog.IsTimestampType(col.Type) {
			timestamp = true
		}
		if catalog.IsDatetimeType(col.Type) {
			datetime = true
		}
	}
	return timestamp, datetime
}

func bareNameWarning(written string, table catalog.Table) (string, bool) {
	if len(strings.Split(written, ".")) >= len(strings.Split(table.QualifiedName, ".")) {
		return "", false
	}
	return fmt.Sprintf("Table '%s' should be referenced by its fully-qualified name `%s`", written, table.QualifiedName), true
}
