package catalog

import "strings"

// TypeHint returns a coarse usage hint for a column type.
func TypeHint(dataType string) string {
	t := strings.ToUpper(strings.TrimSpace(dataType))
	if idx := strings.IndexAny(t, "(<"); idx >= 0 {
		t = t[:idx]
	}
	switch t {
	case "INT64", "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "HUGEINT",
		"FLOAT64", "FLOAT", "DOUBLE", "DOUBLE PRECISION", "REAL",
		"NUMERIC", "BIGNUMERIC", "DECIMAL":
		return "numeric: aggregate with SUM/AVG/COUNT"
	case "STRING", "VARCHAR", "TEXT", "CHAR", "CHARACTER VARYING":
		return "text: filter with = or LIKE, group by for categories"
	case "BOOL", "BOOLEAN":
		return "boolean: filter with IS TRUE / IS FALSE"
	case "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE":
		return "TIMESTAMP: use TIMESTAMP_* functions, never DATETIME_*"
	case "DATETIME", "TIMESTAMP WITHOUT TIME ZONE":
		return "DATETIME: use DATETIME_* functions, never TIMESTAMP_*"
	case "DATE":
		return "DATE: use DATE_* functions"
	case "ARRAY", "LIST":
		return "repeated: UNNEST before filtering"
	case "STRUCT", "RECORD", "JSON", "JSONB":
		return "nested: access fields with dot notation"
	}
	return ""
}

// IsTimestampType reports whether dataType is the zone-aware TIMESTAMP family.
func IsTimestampType(dataType string) bool {
	switch strings.ToUpper(strings.TrimSpace(dataType)) {
	case "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE":
		return true
	}
	return false
}

// IsDatetimeType reports whether dataType is the civil DATETIME family.
func IsDatetimeType(dataType string) bool {
	switch strings.ToUpper(strings.TrimSpace(dataType)) {
	case "DATETIME", "TIMESTAMP WITHOUT TIME ZONE":
		return true
	}
	return false
}
