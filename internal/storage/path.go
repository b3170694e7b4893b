package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// TablePrefix returns the key prefix under which every parquet file of a
// warehouse table lives: <root>/<dataset>/<table>/.
func TablePrefix(root, dataset, table string) (string, error) {
	if err := validatePathComponent(dataset, "dataset"); err != nil {
		return "", err
	}
	if err := validatePathComponent(table, "table name"); err != nil {
		return "", err
	}
	return path.Join(cleanRoot(root), strings.ToLower(dataset), strings.ToLower(table)) + "/", nil
}

func TableFilePath(root, dataset, table string, part int) (string, error) {
	prefix, err := TablePrefix(root, dataset, table)
	if err != nil {
		return "", err
	}
	if part < 0 {
		return "", fmt.Errorf("part must be >= 0")
	}
	return prefix + fmt.Sprintf("part-%05d.parquet", part), nil
}

// IsParquetKey reports whether key names a parquet data file.
func IsParquetKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".parquet")
}

// ObjectKeyFromURI accepts either a bare key or an s3://bucket/key URI and
// returns the key part.
func ObjectKeyFromURI(uri string) (string, bool) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, "s3://") {
		return "", false
	}
	rest := strings.TrimPrefix(uri, "s3://")
	idx := strings.Index(rest, "/")
	if idx < 0 || idx == len(rest)-1 {
		return "", false
	}
	return rest[idx+1:], true
}

func cleanRoot(root string) string {
	root = strings.Trim(strings.TrimSpace(root), "/")
	if root == "" {
		return ""
	}
	return path.Clean(root)
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
