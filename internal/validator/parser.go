package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/sqltext"
)

// Parsed is the tables and columns one parse found in a statement.
type Parsed struct {
	Tables        []sqltext.TableRef  `json:"tables"`
	Columns       []sqltext.ColumnRef `json:"columns"`
	OutputAliases []string            `json:"output_aliases"`
	// Source names the parser that produced the result.
	Source string `json:"source"`
}

// Parser reads tables and columns out of a statement in one pass.
type Parser interface {
	Name() string
	Parse(ctx context.Context, sql string) (Parsed, error)
	// Cacheable reports whether results are worth keeping in the parse cache.
	Cacheable() bool
}

// TokenParser is the deterministic parser built on the sqltext scanner.
type TokenParser struct{}

func (TokenParser) Name() string    { return "token" }
func (TokenParser) Cacheable() bool { return false }

func (TokenParser) Parse(_ context.Context, sql string) (Parsed, error) {
	a := sqltext.Analyze(sql)
	return Parsed{Tables: a.Tables, Columns: a.Columns, OutputAliases: a.OutputAliases, Source: "token"}, nil
}

// LLMParser asks a model for the tables and columns of a statement as one
// structured answer.
type LLMParser struct {
	client llm.Client
	model  string
}

func NewLLMParser(client llm.Client, router llm.Router) *LLMParser {
	return &LLMParser{client: client, model: router.Model(llm.RoleParse)}
}

func (p *LLMParser) Name() string    { return "llm" }
func (p *LLMParser) Cacheable() bool { return true }

var parseSchema = &llm.JSONSchema{
	Name: "sql_references",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tables": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":  map[string]any{"type": "string"},
						"alias": map[string]any{"type": "string"},
					},
					"required":             []string{"name", "alias"},
					"additionalProperties": false,
				},
			},
			"columns": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"qualifier": map[string]any{"type": "string"},
						"name":      map[string]any{"type": "string"},
					},
					"required":             []string{"qualifier", "name"},
					"additionalProperties": false,
				},
			},
			"output_aliases": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"tables", "columns", "output_aliases"},
		"additionalProperties": false,
	},
}

const parsePrompt = `List every relation and column referenced by the SQL statement below.
- tables: every relation in FROM and JOIN clauses, name exactly as written (keep dataset and project qualifiers, drop quotes), with its alias or "".
- columns: every column reference, with the qualifier exactly as written (table name or alias) or "" when unqualified.
- output_aliases: names given to select-list expressions.
Do not include functions, keywords or literals.

SQL:
%s`

func (p *LLMParser) Parse(ctx context.Context, sql string) (Parsed, error) {
	if p.client == nil {
		return Parsed{}, fmt.Errorf("model client is not configured")
	}
	var out struct {
		Tables []struct {
			Name  string `json:"name"`
			Alias string `json:"alias"`
		} `json:"tables"`
		Columns []struct {
			Qualifier string `json:"qualifier"`
			Name      string `json:"name"`
		} `json:"columns"`
		OutputAliases []string `json:"output_aliases"`
	}
	completion, err := llm.CompleteJSON(ctx, p.client, llm.CompletionRequest{
		Model:    p.model,
		Messages: []llm.Message{{Role: "user", Content: fmt.Sprintf(parsePrompt, sql)}},
		Schema:   parseSchema,
	}, &out)
	if err != nil {
		return Parsed{}, err
	}
	observability.ObserveTokens(string(llm.RoleParse), completion.Usage.TotalTokens)

	parsed := Parsed{Source: "llm"}
	for _, t := range out.Tables {
		name := cleanIdent(t.Name)
		if name == "" {
			continue
		}
		parsed.Tables = append(parsed.Tables, sqltext.TableRef{Name: name, Alias: cleanIdent(t.Alias)})
	}
	for _, c := range out.Columns {
		name := cleanIdent(c.Name)
		if name == "" || name == "*" {
			continue
		}
		parsed.Columns = append(parsed.Columns, sqltext.ColumnRef{Qualifier: cleanIdent(c.Qualifier), Name: name})
	}
	for _, alias := range out.OutputAliases {
		if alias = cleanIdent(alias); alias != "" {
			parsed.OutputAliases = append(parsed.OutputAliases, alias)
		}
	}
	return parsed, nil
}

var identQuotes = strings.NewReplacer("`", "", `"`, "")

func cleanIdent(value string) string {
	return strings.TrimSpace(identQuotes.Replace(value))
}
