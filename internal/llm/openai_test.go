package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIClientCompleteSendsSchemaAndParsesUsage(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-5-mini","choices":[{"message":{"content":"{\"tables\":[\"users\"]}"}}],"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL + "/", APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}

	var out struct {
		Tables []string `json:"tables"`
	}
	completion, err := CompleteJSON(context.Background(), client, CompletionRequest{
		Model:    "gpt-5-mini",
		Messages: []Message{{Role: "user", Content: "which tables?"}},
		Schema:   StringArraySchema("tables", "tables"),
	}, &out)
	if err != nil {
		t.Fatalf("CompleteJSON() error = %v", err)
	}
	if len(out.Tables) != 1 || out.Tables[0] != "users" {
		t.Fatalf("tables = %#v", out.Tables)
	}
	if completion.Usage.TotalTokens != 16 || completion.Usage.Model != "gpt-5-mini" {
		t.Fatalf("usage = %+v", completion.Usage)
	}
	format, ok := captured["response_format"].(map[string]any)
	if !ok || format["type"] != "json_schema" {
		t.Fatalf("response_format = %#v", captured["response_format"])
	}
	if captured["model"] != "gpt-5-mini" {
		t.Fatalf("model = %#v", captured["model"])
	}
}

func TestOpenAIClientCompleteReturnsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	_, err = client.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err == nil || !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("Complete() error = %v", err)
	}
}

func TestOpenAIClientEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	vec, err := client.Embed(context.Background(), "revenue by user")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("len(vec) = %d", len(vec))
	}
	if _, err := client.Embed(context.Background(), "  "); err == nil {
		t.Fatal("expected empty input error")
	}
}

func TestNewOpenAIClientValidatesConfig(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{APIKey: "x"}); err == nil {
		t.Fatal("expected base URL error")
	}
	if _, err := NewOpenAIClient(OpenAIConfig{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected api key error")
	}
}
