package nl2sql

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/querypilot/querypilot/internal/apperr"
	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/retrieval"
)

type scriptedModel struct {
	mu       sync.Mutex
	calls    map[string]int
	requests []llm.CompletionRequest
	respond  func(req llm.CompletionRequest) (llm.Completion, error)
}

func (m *scriptedModel) Complete(_ context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[schemaName(req)]++
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.respond(req)
}

func (m *scriptedModel) count(schema string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[schema]
}

func schemaName(req llm.CompletionRequest) string {
	if req.Schema == nil {
		return ""
	}
	return req.Schema.Name
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func shopCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Table{
		{QualifiedName: "demo.shop.users", Columns: []catalog.Column{
			{Name: "id", Type: "INT64"},
			{Name: "email", Type: "STRING"},
		}},
		{QualifiedName: "demo.shop.orders", Columns: []catalog.Column{
			{Name: "order_id", Type: "INT64"},
			{Name: "user_id", Type: "INT64"},
			{Name: "created_at", Type: "TIMESTAMP"},
		}},
		{QualifiedName: "demo.shop.order_items", Columns: []catalog.Column{
			{Name: "order_id", Type: "INT64"},
			{Name: "user_id", Type: "INT64"},
			{Name: "sale_price", Type: "FLOAT64"},
		}},
	})
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}
	return cat
}

func docs(contents ...string) []retrieval.Document {
	out := make([]retrieval.Document, 0, len(contents))
	for _, c := range contents {
		out = append(out, retrieval.Document{Content: c})
	}
	return out
}

func TestTableSetSortsAndDeduplicates(t *testing.T) {
	got := NewTableSet("Orders", "users", " orders ", "")
	if !reflect.DeepEqual(got, TableSet{"orders", "users"}) {
		t.Fatalf("NewTableSet() = %#v", got)
	}
	if !got.Contains("USERS") || got.Contains("items") {
		t.Fatal("Contains() mismatch")
	}
}

func TestTableExtractorFallsBackToTokenScan(t *testing.T) {
	model := &scriptedModel{respond: func(llm.CompletionRequest) (llm.Completion, error) {
		return llm.Completion{}, errors.New("model unavailable")
	}}
	ex, err := NewTableExtractor(shopCatalog(t), model, llm.NewRouter("gen", nil), TableExtractorOptions{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewTableExtractor() error = %v", err)
	}
	got, err := ex.Extract(context.Background(), docs(
		"-- Question: revenue per user\nSELECT oi.user_id, SUM(oi.sale_price) FROM `demo.shop.order_items` oi JOIN demo.shop.returns r ON r.id = oi.order_id GROUP BY 1",
	), "Which users spent the most?", nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !reflect.DeepEqual(got, TableSet{"order_items", "users"}) {
		t.Fatalf("Extract() = %#v", got)
	}
	if model.count("table_extraction") != 1 {
		t.Fatalf("model calls = %d", model.count("table_extraction"))
	}
}

func TestTableExtractorUsesModelAndHonoursExclusions(t *testing.T) {
	model := &scriptedModel{respond: func(llm.CompletionRequest) (llm.Completion, error) {
		return llm.Completion{Text: `{"tables":["demo.shop.orders","ORDER_ITEMS","made_up"]}`}, nil
	}}
	ex, _ := NewTableExtractor(shopCatalog(t), model, llm.NewRouter("gen", map[llm.Role]string{llm.RoleExtract: "small"}), TableExtractorOptions{})
	got, err := ex.Extract(context.Background(), docs("SELECT * FROM x JOIN y ON TRUE"), "orders last week", []string{"demo.shop.order_items"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !reflect.DeepEqual(got, TableSet{"orders"}) {
		t.Fatalf("Extract() = %#v", got)
	}
	if model.requests[0].Model != "small" {
		t.Fatalf("model = %q, want routed extract model", model.requests[0].Model)
	}
}

func TestTableExtractorCapsScannedDocuments(t *testing.T) {
	model := &scriptedModel{respond: func(llm.CompletionRequest) (llm.Completion, error) {
		return llm.Completion{Text: `{"tables":[]}`}, nil
	}}
	ex, _ := NewTableExtractor(shopCatalog(t), model, llm.NewRouter("gen", nil), TableExtractorOptions{MaxDocuments: 2})
	query := "SELECT 1 FROM demo.shop.users"
	if _, err := ex.Extract(context.Background(), docs(query, query, query, query), "q", nil); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got := model.count("table_extraction"); got != 2 {
		t.Fatalf("model calls = %d, want 2", got)
	}
}

func TestRequestScopeExtractsOnce(t *testing.T) {
	model := &scriptedModel{respond: func(llm.CompletionRequest) (llm.Completion, error) {
		return llm.Completion{Text: `{"tables":["users"]}`}, nil
	}}
	ex, _ := NewTableExtractor(shopCatalog(t), model, llm.NewRouter("gen", nil), TableExtractorOptions{})
	scope := ex.Scope(docs("SELECT email FROM users"), "emails", nil)

	first, err := scope.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables() error = %v", err)
	}
	second, _ := scope.Tables(context.Background())
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Tables() = %#v then %#v", first, second)
	}
	if got := model.count("table_extraction"); got != 1 {
		t.Fatalf("model calls = %d, want 1", got)
	}
}

func TestSchemaInjectorBuild(t *testing.T) {
	inj, err := NewSchemaInjector(shopCatalog(t))
	if err != nil {
		t.Fatalf("NewSchemaInjector() error = %v", err)
	}
	block := inj.Build(NewTableSet("order_items", "ghost"))
	if !strings.Contains(block.Text, "Table `demo.shop.order_items`:") {
		t.Fatalf("Text = %q", block.Text)
	}
	if !strings.Contains(block.Text, "sale_price FLOAT64 (numeric: aggregate with SUM/AVG/COUNT)") {
		t.Fatalf("missing type hint: %q", block.Text)
	}
	if strings.Contains(block.Text, "ghost") {
		t.Fatalf("unknown table leaked: %q", block.Text)
	}
	if !strings.Contains(block.Text, "TIMESTAMP and DATETIME are different types") {
		t.Fatalf("missing dialect block: %q", block.Text)
	}
	if !reflect.DeepEqual(block.FQN, map[string]string{"order_items": "demo.shop.order_items"}) {
		t.Fatalf("FQN = %#v", block.FQN)
	}
}

func TestParseAgentType(t *testing.T) {
	cases := map[string]AgentType{
		"generate":    AgentGenerate,
		" Explain ":   AgentExplain,
		"long_answer": AgentLongAnswer,
		"":            AgentDefault,
		"poet":        AgentDefault,
	}
	for raw, want := range cases {
		if got := ParseAgentType(raw); got != want {
			t.Fatalf("ParseAgentType(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestPromptBuilderKeepsLastTurns(t *testing.T) {
	var turns []Turn
	for _, c := range []string{"one", "two", "three", "four", "five", "six", "seven"} {
		turns = append(turns, Turn{Role: "user", Content: c})
	}
	pc := NewPromptBuilder(0).Build("and now?", "Schema:\nTable `t`:", docs("-- Question: q\nSELECT 1 FROM t"), turns, AgentGenerate)

	want := "USER: three\nUSER: four\nUSER: five\nUSER: six\nUSER: seven"
	if pc.ContextSection != want {
		t.Fatalf("ContextSection = %q", pc.ContextSection)
	}
	for _, part := range []string{"Example 1:", "Schema:", "Question: and now?", "```sql"} {
		if !strings.Contains(pc.FullPrompt, part) {
			t.Fatalf("FullPrompt missing %q:\n%s", part, pc.FullPrompt)
		}
	}
	if strings.Contains(pc.FullPrompt, "USER: two") {
		t.Fatal("old turns must be dropped")
	}
}

func TestPromptTemplatesDiffer(t *testing.T) {
	b := NewPromptBuilder(5)
	seen := map[string]AgentType{}
	for _, agent := range []AgentType{AgentDefault, AgentGenerate, AgentExplain, AgentLongAnswer} {
		prompt := b.Build("q", "", nil, nil, agent).FullPrompt
		if other, ok := seen[prompt]; ok {
			t.Fatalf("%v and %v share a template", agent, other)
		}
		seen[prompt] = agent
	}
	if !strings.Contains(b.Build("q", "", nil, nil, AgentType(42)).FullPrompt, "two to three sentences") {
		t.Fatal("unknown agent must use the concise template")
	}
}

func TestGeneratorWrapsFailures(t *testing.T) {
	model := &scriptedModel{respond: func(llm.CompletionRequest) (llm.Completion, error) {
		return llm.Completion{}, errors.New("401 unauthorized")
	}}
	gen, _ := NewGenerator(model, llm.NewRouter("big", nil), GeneratorOptions{})
	_, err := gen.Generate(context.Background(), "prompt", llm.RoleGenerate)
	if !apperr.Is(err, apperr.Generation) {
		t.Fatalf("Generate() error = %v, want generation kind", err)
	}
	if model.count("") != 1 {
		t.Fatal("generator must not retry")
	}
}

func TestGeneratorFillsUsage(t *testing.T) {
	model := &scriptedModel{respond: func(llm.CompletionRequest) (llm.Completion, error) {
		return llm.Completion{Text: "hi", Usage: llm.Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4}}, nil
	}}
	gen, _ := NewGenerator(model, llm.NewRouter("big", nil), GeneratorOptions{})
	answer, err := gen.Generate(context.Background(), "prompt", llm.RoleGenerate)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if answer.Usage.Model != "big" || answer.Usage.TotalTokens != 4 || answer.Usage.Duration <= 0 {
		t.Fatalf("Usage = %+v", answer.Usage)
	}
}
