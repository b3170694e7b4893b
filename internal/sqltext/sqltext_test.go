package sqltext

import (
	"reflect"
	"testing"
)

func TestTokenizeSkipsCommentsAndKeepsLiterals(t *testing.T) {
	toks := Tokenize("SELECT 'a;b' -- DROP\n, `p.d.t` /* x */ FROM t;")
	var kinds []TokenKind
	var texts []string
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
		texts = append(texts, tok.Text)
	}
	wantTexts := []string{"SELECT", "'a;b'", ",", "p.d.t", "FROM", "t", ";", ""}
	if !reflect.DeepEqual(texts, wantTexts) {
		t.Fatalf("texts = %#v, want %#v", texts, wantTexts)
	}
	if kinds[1] != TokenString || kinds[3] != TokenQuoted || kinds[len(kinds)-1] != TokenEOF {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestNormalizeCollapsesFormatting(t *testing.T) {
	a := Normalize("SELECT  user_id\nFROM   Orders -- trailing\n WHERE status = 'Done';")
	b := Normalize("select user_id from orders where status = 'Done'")
	if a != b {
		t.Fatalf("Normalize() mismatch:\n%q\n%q", a, b)
	}
	if Normalize("select 'Done'") == Normalize("select 'done'") {
		t.Fatal("string literals must keep their case")
	}
}

func TestFirstKeywordAndShape(t *testing.T) {
	if got := FirstKeyword("  (select 1)"); got != "SELECT" {
		t.Fatalf("FirstKeyword() = %q", got)
	}
	if got := FirstKeyword("'x'"); got != "" {
		t.Fatalf("FirstKeyword() = %q", got)
	}
	if !IsSQLShaped("WITH a AS (SELECT 1) SELECT * FROM a") {
		t.Fatal("expected WITH query to be SQL-shaped")
	}
	if IsSQLShaped("Select the users you want") {
		t.Fatal("prose without FROM must not be SQL-shaped")
	}
}

func TestSeparators(t *testing.T) {
	if !Terminated("SELECT 1; -- done") {
		t.Fatal("expected terminated statement")
	}
	if Terminated("SELECT ';'") {
		t.Fatal("semicolon inside literal does not terminate")
	}
	if !HasInnerSeparator("SELECT 1; SELECT 2;") {
		t.Fatal("expected inner separator")
	}
	if HasInnerSeparator("SELECT ';' FROM t;") {
		t.Fatal("semicolon inside literal is not a separator")
	}
	if got := Statement(" SELECT 1 ;; "); got != "SELECT 1" {
		t.Fatalf("Statement() = %q", got)
	}
}

func TestStatementDropsTrailingCommentsAndTerminators(t *testing.T) {
	cases := map[string]string{
		"SELECT id FROM shop.users; -- all users":  "SELECT id FROM shop.users",
		"-- top\nSELECT `a;b` FROM t /* x */ ;;\n": "SELECT `a;b` FROM t",
		"SELECT 'x;' FROM t -- c\nWHERE y = 1;":    "SELECT 'x;' FROM t -- c\nWHERE y = 1",
		"SELECT \"col\"\"q\" FROM t":               "SELECT \"col\"\"q\" FROM t",
		" ; -- nothing":                            "",
	}
	for in, want := range cases {
		if got := Statement(in); got != want {
			t.Fatalf("Statement(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWordsIgnoreLiteralsAndIdentifiers(t *testing.T) {
	got := Words("SELECT `drop`, 'delete me' FROM t -- update")
	want := []string{"SELECT", "FROM", "T"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Words() = %#v, want %#v", got, want)
	}
}

func TestAnalyzeCTEsAndTables(t *testing.T) {
	sql := `WITH OrderTotals AS (
  SELECT o.user_id, SUM(oi.sale_price) AS total
  FROM shop.orders o JOIN shop.order_items AS oi ON oi.order_id = o.order_id
  GROUP BY o.user_id
), recent (user_id) AS (SELECT user_id FROM users)
SELECT u.email, t.total
FROM users u
JOIN OrderTotals t ON t.user_id = u.id
ORDER BY total DESC`
	a := Analyze(sql)

	if !reflect.DeepEqual(a.CTEs, []string{"OrderTotals", "recent"}) {
		t.Fatalf("CTEs = %#v", a.CTEs)
	}
	var names []string
	for _, ref := range a.Tables {
		names = append(names, ref.Name+"/"+ref.Alias)
	}
	want := []string{"shop.orders/o", "shop.order_items/oi", "users/", "users/u", "OrderTotals/t"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("Tables = %#v, want %#v", names, want)
	}
	if !reflect.DeepEqual(a.OutputAliases, []string{"total"}) {
		t.Fatalf("OutputAliases = %#v", a.OutputAliases)
	}
}

func TestAnalyzeDerivedAliases(t *testing.T) {
	sql := `SELECT m.category, COUNT(*) FROM (
  SELECT p.category, oi.order_id FROM products p JOIN order_items oi ON oi.product_id = p.id
) AS OrderCategoryMapping
JOIN (SELECT 1 AS x FROM dual) sub ON TRUE
CROSS JOIN UNNEST(tags) AS tag`
	a := Analyze(sql)
	if !reflect.DeepEqual(a.DerivedAliases, []string{"OrderCategoryMapping", "sub", "tag"}) {
		t.Fatalf("DerivedAliases = %#v", a.DerivedAliases)
	}
	for _, ref := range a.Tables {
		if ref.Name == "UNNEST" || ref.Name == "tags" {
			t.Fatalf("table function leaked into Tables: %#v", a.Tables)
		}
	}
	if !reflect.DeepEqual(a.TableFunctions, []string{"UNNEST"}) {
		t.Fatalf("TableFunctions = %#v", a.TableFunctions)
	}
}

func TestAnalyzeFileRelations(t *testing.T) {
	a := Analyze("SELECT content FROM read_text('/etc/hostname') r, main.glob('*') g JOIN '/tmp/x.csv' ON TRUE")
	if !reflect.DeepEqual(a.TableFunctions, []string{"read_text", "main.glob"}) {
		t.Fatalf("TableFunctions = %#v", a.TableFunctions)
	}
	if !reflect.DeepEqual(a.LiteralRelations, []string{"'/tmp/x.csv'"}) {
		t.Fatalf("LiteralRelations = %#v", a.LiteralRelations)
	}
	if len(a.Tables) != 0 {
		t.Fatalf("Tables = %#v", a.Tables)
	}
}

func TestAnalyzeIgnoresFromInsideFunctions(t *testing.T) {
	a := Analyze("SELECT EXTRACT(YEAR FROM created_at) AS y, a IS DISTINCT FROM b FROM orders")
	if len(a.Tables) != 1 || a.Tables[0].Name != "orders" {
		t.Fatalf("Tables = %#v", a.Tables)
	}
}

func TestAnalyzeColumns(t *testing.T) {
	sql := "SELECT o.user_id, SUM(sale_price) AS revenue, CAST(created_at AS DATE) d, `p.d.t`.x " +
		"FROM `p.d.order_items` o WHERE status = \"Complete\" AND created_at > @since ORDER BY revenue"
	a := Analyze(sql)
	var got []string
	for _, col := range a.Columns {
		got = append(got, col.String())
	}
	want := []string{"o.user_id", "sale_price", "created_at", "p.d.t.x", "status"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Columns = %#v, want %#v", got, want)
	}
	if a.Tables[0].Name != "p.d.order_items" || a.Tables[0].ShortName() != "order_items" {
		t.Fatalf("Tables = %#v", a.Tables)
	}
}

func TestCTENamesNestedWith(t *testing.T) {
	got := CTENames("SELECT * FROM (WITH inner_cte AS (SELECT 1 AS v) SELECT v FROM inner_cte) AS outer_q")
	if !reflect.DeepEqual(got, []string{"inner_cte"}) {
		t.Fatalf("CTENames() = %#v", got)
	}
}
