package nl2sql

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/querypilot/querypilot/internal/apperr"
	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/retrieval"
	"github.com/querypilot/querypilot/internal/sqltext"
)

const (
	defaultMaxDocuments       = 3
	defaultExtractConcurrency = 3
)

// TableSet is a sorted, de-duplicated set of lower-cased table short names.
type TableSet []string

func NewTableSet(names ...string) TableSet {
	seen := make(map[string]struct{}, len(names))
	out := make(TableSet, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s TableSet) Contains(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	idx := sort.SearchStrings(s, name)
	return idx < len(s) && s[idx] == name
}

// tableStrategy proposes table names for one retrieved document. Strategies
// are tried in order; the first one that can handle the text and succeeds
// wins.
type tableStrategy interface {
	name() string
	canHandle(text string) bool
	extract(ctx context.Context, text string) ([]string, error)
}

type llmTableStrategy struct {
	client llm.Client
	model  string
	known  []string
}

func (s llmTableStrategy) name() string { return "llm" }

func (s llmTableStrategy) canHandle(text string) bool {
	return s.client != nil && containsQuery(text)
}

func (s llmTableStrategy) extract(ctx context.Context, text string) ([]string, error) {
	prompt := fmt.Sprintf(`List the real warehouse tables referenced by the SQL below.
Only use names from this list: %s.
Ignore CTE names, subquery aliases and table aliases.

%s`, strings.Join(s.known, ", "), text)

	var out struct {
		Tables []string `json:"tables"`
	}
	completion, err := llm.CompleteJSON(ctx, s.client, llm.CompletionRequest{
		Model:    s.model,
		Messages: []llm.Message{{Role: "user", Content: prompt}},
		Schema:   llm.StringArraySchema("table_extraction", "tables"),
	}, &out)
	if err != nil {
		return nil, apperr.Wrap(apperr.Extraction, "structured table extraction failed", err)
	}
	observability.ObserveTokens(string(llm.RoleExtract), completion.Usage.TotalTokens)
	return out.Tables, nil
}

type tokenTableStrategy struct {
	catalog *catalog.Catalog
}

func (s tokenTableStrategy) name() string { return "token" }

func (s tokenTableStrategy) canHandle(string) bool { return true }

func (s tokenTableStrategy) extract(_ context.Context, text string) ([]string, error) {
	analysis := sqltext.Analyze(text)
	local := analysis.LocalRelations()
	var out []string
	for _, ref := range analysis.Tables {
		if _, ok := local[strings.ToLower(ref.Name)]; ok {
			continue
		}
		out = append(out, ref.Name)
	}
	// Prose and partial snippets still mention tables by name.
	for _, tok := range sqltext.Tokenize(text) {
		if !tok.IsIdent() || sqltext.IsReserved(tok.Text) {
			continue
		}
		if _, ok := s.catalog.Lookup(tok.Text); ok {
			out = append(out, tok.Text)
		}
	}
	return out, nil
}

func containsQuery(text string) bool {
	var hasVerb, hasFrom bool
	for _, word := range sqltext.Words(text) {
		switch word {
		case "SELECT", "WITH":
			hasVerb = true
		case "FROM":
			hasFrom = true
		}
	}
	return hasVerb && hasFrom
}

type TableExtractorOptions struct {
	// MaxDocuments caps how many retrieved documents are scanned per request.
	MaxDocuments int
	Concurrency  int
	Logger       *slog.Logger
}

// TableExtractor proposes the catalog tables relevant to a question from the
// retrieved examples and the question itself.
type TableExtractor struct {
	catalog     *catalog.Catalog
	strategies  []tableStrategy
	maxDocs     int
	concurrency int
	logger      *slog.Logger
}

// NewTableExtractor builds an extractor. A nil client disables the structured
// extraction strategy and leaves only token scanning.
func NewTableExtractor(cat *catalog.Catalog, client llm.Client, router llm.Router, opts TableExtractorOptions) (*TableExtractor, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	maxDocs := opts.MaxDocuments
	if maxDocs <= 0 {
		maxDocs = defaultMaxDocuments
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultExtractConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var strategies []tableStrategy
	if client != nil {
		strategies = append(strategies, llmTableStrategy{client: client, model: router.Model(llm.RoleExtract), known: cat.ShortNames()})
	}
	strategies = append(strategies, tokenTableStrategy{catalog: cat})
	return &TableExtractor{
		catalog:     cat,
		strategies:  strategies,
		maxDocs:     maxDocs,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Extract scans at most MaxDocuments documents, adds tables named in the
// question, drops excluded tables and keeps only names the catalog knows.
// It only fails when ctx is done.
func (e *TableExtractor) Extract(ctx context.Context, docs []retrieval.Document, question string, excluded []string) (TableSet, error) {
	if len(docs) > e.maxDocs {
		e.logger.Debug("table extraction document cap reached", "documents", len(docs), "scanned", e.maxDocs)
		docs = docs[:e.maxDocs]
	}

	found := make([][]string, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			names, err := e.extractDocument(gctx, doc.Content)
			if err != nil {
				return err
			}
			found[i] = names
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var candidates []string
	for _, names := range found {
		candidates = append(candidates, names...)
	}
	candidates = append(candidates, e.questionTables(question)...)

	skip := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		skip[e.shortName(name)] = struct{}{}
	}
	out := make([]string, 0, len(candidates))
	for _, name := range candidates {
		table, ok := e.catalog.Lookup(name)
		if !ok {
			continue
		}
		short := strings.ToLower(table.ShortName())
		if _, ok := skip[short]; ok {
			continue
		}
		out = append(out, short)
	}
	return NewTableSet(out...), nil
}

func (e *TableExtractor) extractDocument(ctx context.Context, text string) ([]string, error) {
	for _, strategy := range e.strategies {
		if !strategy.canHandle(text) {
			continue
		}
		names, err := strategy.extract(ctx, text)
		if err == nil {
			return names, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		observability.IncrementTableExtractionFallback()
		e.logger.Warn("table extraction strategy failed, falling back", "strategy", strategy.name(), "error", err)
	}
	return nil, nil
}

func (e *TableExtractor) questionTables(question string) []string {
	var out []string
	for _, term := range retrieval.Terms(question) {
		if _, ok := e.catalog.Lookup(term); ok {
			out = append(out, term)
		}
	}
	return out
}

func (e *TableExtractor) shortName(name string) string {
	if table, ok := e.catalog.Lookup(name); ok {
		return strings.ToLower(table.ShortName())
	}
	name = strings.ToLower(strings.Trim(strings.TrimSpace(name), "`\""))
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// RequestScope memoises table extraction for one request, so the schema
// block and the fully-qualified name map share one extraction.
type RequestScope struct {
	extractor *TableExtractor
	docs      []retrieval.Document
	question  string
	excluded  []string

	once   sync.Once
	tables TableSet
	err    error
}

func (e *TableExtractor) Scope(docs []retrieval.Document, question string, excluded []string) *RequestScope {
	return &RequestScope{extractor: e, docs: docs, question: question, excluded: excluded}
}

// Tables runs extraction on first use and returns the same set afterwards.
func (s *RequestScope) Tables(ctx context.Context) (TableSet, error) {
	s.once.Do(func() {
		s.tables, s.err = s.extractor.Extract(ctx, s.docs, s.question, s.excluded)
	})
	return s.tables, s.err
}
