package catalog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/querypilot/querypilot/internal/storage"
)

const shopCSV = `table_name,column_name,data_type,hint
demo.shop.users,id,INT64,
demo.shop.users,email,STRING,
demo.shop.order_items,user_id,INT64,
demo.shop.order_items,sale_price,FLOAT64,revenue per line item
demo.shop.users,created_at,TIMESTAMP,
`

func TestReadCSVGroupsRowsByTable(t *testing.T) {
	tables, err := ReadCSV(strings.NewReader(shopCSV))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("len(tables) = %d", len(tables))
	}
	if tables[0].QualifiedName != "demo.shop.users" || len(tables[0].Columns) != 3 {
		t.Fatalf("tables[0] = %+v", tables[0])
	}
	if tables[1].Columns[1].Hint != "revenue per line item" {
		t.Fatalf("hint = %q", tables[1].Columns[1].Hint)
	}
}

func TestReadCSVRequiresHeader(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("a,b\nx,y\n")); err == nil {
		t.Fatal("expected missing header error")
	}
	if _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatal("expected empty file error")
	}
}

func TestLookupAcceptsEverySpelling(t *testing.T) {
	c := mustCatalog(t)
	for _, name := range []string{"users", "USERS", "shop.users", "demo.shop.users", "`demo.shop.users`", "\"users\"", "`demo`.`shop`.`users`"} {
		table, ok := c.Lookup(name)
		if !ok {
			t.Fatalf("Lookup(%q) not found", name)
		}
		if table.QualifiedName != "demo.shop.users" {
			t.Fatalf("Lookup(%q) = %q", name, table.QualifiedName)
		}
	}
	if _, ok := c.Lookup("orders"); ok {
		t.Fatal("expected orders to be missing")
	}
	if _, err := c.Get("orders"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestCatalogAccessors(t *testing.T) {
	c := mustCatalog(t)
	if got := c.ShortNames(); !reflect.DeepEqual(got, []string{"order_items", "users"}) {
		t.Fatalf("ShortNames() = %#v", got)
	}
	if fqn, ok := c.FQN("order_items"); !ok || fqn != "demo.shop.order_items" {
		t.Fatalf("FQN() = %q/%v", fqn, ok)
	}
	col, ok := c.Column("users", "CREATED_AT")
	if !ok || col.Type != "TIMESTAMP" {
		t.Fatalf("Column() = %+v/%v", col, ok)
	}
	if !strings.HasPrefix(col.EffectiveHint(), "TIMESTAMP") {
		t.Fatalf("EffectiveHint() = %q", col.EffectiveHint())
	}
	tables := c.Tables()
	tables[0].QualifiedName = "mutated"
	if c.Tables()[0].QualifiedName == "mutated" {
		t.Fatal("Tables() must return a copy")
	}
}

func TestNewRejectsDuplicatesAndEmptyTables(t *testing.T) {
	cols := []Column{{Name: "id", Type: "INT64"}}
	if _, err := New([]Table{{QualifiedName: "a.b", Columns: cols}, {QualifiedName: "A.B", Columns: cols}}); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := New([]Table{{QualifiedName: "a.b"}}); err == nil {
		t.Fatal("expected empty columns error")
	}
}

func TestLoadCSVFromFileAndObjectStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.csv")
	if err := os.WriteFile(path, []byte(shopCSV), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	c, err := LoadCSV(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("LoadCSV(file) error = %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d", c.Len())
	}

	store := &memoryStore{objects: map[string][]byte{"schemas/shop.csv": []byte(shopCSV)}}
	c, err = LoadCSV(context.Background(), "s3://bucket/schemas/shop.csv", store)
	if err != nil {
		t.Fatalf("LoadCSV(s3) error = %v", err)
	}
	if _, ok := c.Lookup("order_items"); !ok {
		t.Fatal("expected order_items from object store")
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, mustCatalog(t).Tables()); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	tables, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if len(tables) != 2 || tables[0].QualifiedName != "demo.shop.order_items" {
		t.Fatalf("tables = %+v", tables)
	}
}

func TestTypeHint(t *testing.T) {
	if got := TypeHint("numeric(10,2)"); !strings.HasPrefix(got, "numeric") {
		t.Fatalf("TypeHint(numeric) = %q", got)
	}
	if got := TypeHint("GEOGRAPHY"); got != "" {
		t.Fatalf("TypeHint(GEOGRAPHY) = %q", got)
	}
	if !IsTimestampType("timestamp") || IsTimestampType("DATETIME") || !IsDatetimeType("datetime") {
		t.Fatal("timestamp family detection mismatch")
	}
}

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	tables, err := ReadCSV(strings.NewReader(shopCSV))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	c, err := New(tables)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}
