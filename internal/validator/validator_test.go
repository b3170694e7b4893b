package validator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/llm"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Table{
		{QualifiedName: "demo.shop.users", Columns: []catalog.Column{
			{Name: "id", Type: "INT64"},
			{Name: "email", Type: "STRING"},
			{Name: "created_at", Type: "TIMESTAMP"},
		}},
		{QualifiedName: "demo.shop.order_items", Columns: []catalog.Column{
			{Name: "order_id", Type: "INT64"},
			{Name: "user_id", Type: "INT64"},
			{Name: "sale_price", Type: "FLOAT64"},
			{Name: "shipped_at", Type: "DATETIME"},
		}},
	})
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}
	return cat
}

func newTestValidator(t *testing.T, opts Options, parsers ...Parser) *Validator {
	t.Helper()
	v, err := New(testCatalog(t), NewParseCache(CacheOptions{}), opts, parsers...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v
}

type fakeModel struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeModel) Complete(_ context.Context, _ llm.CompletionRequest) (llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return llm.Completion{Text: f.text, Usage: llm.Usage{TotalTokens: 10}}, nil
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestValidateKnownTablesIsValid(t *testing.T) {
	v := newTestValidator(t, Options{})
	res := v.Validate(context.Background(), "SELECT user_id, SUM(sale_price) AS lifetime_revenue FROM `demo.shop.order_items` GROUP BY user_id ORDER BY lifetime_revenue DESC LIMIT 10;")
	if !res.IsValid || len(res.Errors) != 0 {
		t.Fatalf("Validate() = %+v, want valid", res)
	}
	if len(res.TablesFound) != 1 || res.TablesFound[0] != "demo.shop.order_items" {
		t.Fatalf("TablesFound = %#v", res.TablesFound)
	}
	for _, col := range res.ColumnsFound {
		if col == "lifetime_revenue" {
			t.Fatalf("output alias reported as column: %#v", res.ColumnsFound)
		}
	}
}

func TestValidateNeverReportsCTEAsMissing(t *testing.T) {
	v := newTestValidator(t, Options{})
	sql := `WITH OrderTotals AS (
  SELECT oi.user_id, SUM(oi.sale_price) AS total FROM demo.shop.order_items oi GROUP BY oi.user_id
)
SELECT u.email, t.total FROM demo.shop.users u JOIN OrderTotals t ON t.user_id = u.id;`
	res := v.Validate(context.Background(), sql)
	for _, msg := range res.Errors {
		if strings.Contains(msg, "OrderTotals") {
			t.Fatalf("CTE reported as error: %#v", res.Errors)
		}
	}
	if !res.IsValid {
		t.Fatalf("Validate() = %+v, want valid", res)
	}
}

func TestValidateCTEExclusionSurvivesWrongModelParse(t *testing.T) {
	model := &fakeModel{text: `{"tables":[{"name":"recent","alias":""},{"name":"demo.shop.users","alias":"u"}],"columns":[],"output_aliases":[]}`}
	v := newTestValidator(t, Options{}, NewLLMParser(model, llm.NewRouter("m", nil)))
	res := v.Validate(context.Background(), "with RECENT as (select * from demo.shop.users u) select * from recent;")
	if !res.IsValid {
		t.Fatalf("Validate() = %+v, want valid", res)
	}
}

func TestValidateMissingTableReportedOnce(t *testing.T) {
	v := newTestValidator(t, Options{})
	sql := "SELECT * FROM demo.shop.returns r JOIN demo.shop.returns r2 ON r.id = r2.id JOIN demo.shop.users u ON u.id = r.user_id;"
	res := v.Validate(context.Background(), sql)
	if res.IsValid {
		t.Fatal("expected invalid result")
	}
	want := "Table 'demo.shop.returns' not found in schema"
	count := 0
	for _, msg := range res.Errors {
		if msg == want {
			count++
		}
	}
	if count != 1 || len(res.Errors) != 1 {
		t.Fatalf("Errors = %#v, want %q exactly once", res.Errors, want)
	}
}

func TestValidateDerivedAliasExcludedWithWarning(t *testing.T) {
	model := &fakeModel{text: `{"tables":[{"name":"OrderCategoryMapping","alias":""},{"name":"demo.shop.order_items","alias":"oi"}],"columns":[],"output_aliases":[]}`}
	router := llm.NewRouter("m", nil)
	sql := "SELECT m.user_id FROM (SELECT oi.user_id FROM demo.shop.order_items oi) AS OrderCategoryMapping;"

	res := newTestValidator(t, Options{}, NewLLMParser(model, router)).Validate(context.Background(), sql)
	if !res.IsValid {
		t.Fatalf("Validate() = %+v, want valid", res)
	}
	if len(res.Warnings) == 0 || !strings.Contains(res.Warnings[0], "OrderCategoryMapping") {
		t.Fatalf("Warnings = %#v", res.Warnings)
	}

	strict := newTestValidator(t, Options{StrictDerivedAliases: true}, NewLLMParser(model, router)).Validate(context.Background(), sql)
	if strict.IsValid || strict.Errors[0] != "Table 'OrderCategoryMapping' not found in schema" {
		t.Fatalf("strict Validate() = %+v", strict)
	}
}

func TestValidateColumns(t *testing.T) {
	v := newTestValidator(t, Options{})
	res := v.Validate(context.Background(), "SELECT u.nickname, favourite_color FROM demo.shop.users u;")
	if res.IsValid {
		t.Fatal("expected invalid result")
	}
	if res.Errors[0] != "Column 'nickname' not found in table 'demo.shop.users'" {
		t.Fatalf("Errors = %#v", res.Errors)
	}
	found := false
	for _, w := range res.Warnings {
		if w == "Column 'favourite_color' not found in any referenced table" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Warnings = %#v", res.Warnings)
	}
}

func TestValidateDialectWarnings(t *testing.T) {
	v := newTestValidator(t, Options{})
	res := v.Validate(context.Background(), "SELECT id FROM users WHERE created_at > DATETIME_SUB(CURRENT_DATETIME(), INTERVAL 7 DAY);")
	if !res.IsValid {
		t.Fatalf("warnings must not block: %+v", res)
	}
	var mixed, bare bool
	for _, w := range res.Warnings {
		mixed = mixed || w == mixedTimeWarning
		bare = bare || strings.HasPrefix(w, "Table 'users' should be referenced by its fully-qualified name")
	}
	if !mixed || !bare {
		t.Fatalf("Warnings = %#v", res.Warnings)
	}
}

func TestValidateEmptySQL(t *testing.T) {
	res := newTestValidator(t, Options{}).Validate(context.Background(), "  ")
	if res.IsValid || len(res.Errors) != 1 {
		t.Fatalf("Validate() = %+v", res)
	}
}

func TestValidateCachesModelParse(t *testing.T) {
	model := &fakeModel{text: `{"tables":[{"name":"demo.shop.users","alias":""}],"columns":[{"qualifier":"","name":"email"}],"output_aliases":[]}`}
	v := newTestValidator(t, Options{}, NewLLMParser(model, llm.NewRouter("m", nil)))

	first := v.Validate(context.Background(), "SELECT email FROM demo.shop.users;")
	second := v.Validate(context.Background(), "select   email\nfrom demo.shop.users")
	if model.callCount() != 1 {
		t.Fatalf("model calls = %d, want 1", model.callCount())
	}
	if !first.IsValid || !second.IsValid {
		t.Fatalf("results = %+v / %+v", first, second)
	}
}

func TestValidateFallsBackWhenModelFails(t *testing.T) {
	model := &fakeModel{err: errors.New("rate limited")}
	v := newTestValidator(t, Options{}, NewLLMParser(model, llm.NewRouter("m", nil)))

	res := v.Validate(context.Background(), "SELECT email FROM demo.shop.customers;")
	if res.IsValid || res.Errors[0] != "Table 'demo.shop.customers' not found in schema" {
		t.Fatalf("Validate() = %+v", res)
	}
	v.Validate(context.Background(), "SELECT email FROM demo.shop.customers;")
	if model.callCount() != 2 {
		t.Fatalf("failed parses must not be cached, calls = %d", model.callCount())
	}
}

func TestValidateCTEShadowingCatalogTable(t *testing.T) {
	v := newTestValidator(t, Options{})
	sql := "WITH order_items AS (SELECT user_id, SUM(sale_price) AS total FROM `demo.shop.order_items` GROUP BY user_id) " +
		"SELECT order_items.total FROM order_items;"
	res := v.Validate(context.Background(), sql)
	if !res.IsValid {
		t.Fatalf("Validate() = %+v, want valid", res)
	}

	res = v.Validate(context.Background(), "WITH users AS (SELECT id AS uid FROM demo.shop.users) SELECT u.uid FROM users u;")
	if !res.IsValid {
		t.Fatalf("aliased CTE Validate() = %+v, want valid", res)
	}
}

func TestValidateMissingTableSpellingsReportedOnce(t *testing.T) {
	v := newTestValidator(t, Options{})
	res := v.Validate(context.Background(), "SELECT * FROM ghost g JOIN shop.ghost g2 ON g.id = g2.id;")
	if len(res.Errors) != 1 || res.Errors[0] != "Table 'ghost' not found in schema" {
		t.Fatalf("Errors = %#v, want one error", res.Errors)
	}

	res = v.Validate(context.Background(), "SELECT * FROM a.ghost x JOIN b.ghost y ON x.id = y.id;")
	if len(res.Errors) != 2 {
		t.Fatalf("conflicting qualifiers Errors = %#v, want two", res.Errors)
	}
}
