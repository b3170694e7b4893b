// Package querypilotctl is the command-line client of the QueryPilot API.
package querypilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

type call struct {
	method string
	path   string
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querypilotctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "QueryPilot API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	command := strings.TrimSpace(fs.Arg(0))
	c, err := buildCall(command, fs.Args()[1:], defaults.Stdin, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + c.path
	code, responseBody, err := doRequest(ctx, client, c, endpoint, *apiKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildCall(command string, args []string, stdin io.Reader, stderr io.Writer) (call, error) {
	switch command {
	case "health":
		return call{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return call{method: http.MethodGet, path: "/v1/ready"}, nil
	case "schema":
		if len(args) > 0 {
			return call{method: http.MethodGet, path: "/v1/schema/" + url.PathEscape(args[0])}, nil
		}
		return call{method: http.MethodGet, path: "/v1/schema"}, nil
	case "ask":
		return askCall(args, stdin, stderr)
	case "validate":
		sql, err := textArg(args, stdin, "sql")
		if err != nil {
			return call{}, err
		}
		return call{method: http.MethodPost, path: "/v1/sql/validate", body: map[string]any{"sql": sql}}, nil
	case "execute", "dry-run":
		return executeCall(command == "dry-run", args, stdin, stderr)
	default:
		return call{}, fmt.Errorf("unknown command %q", command)
	}
}

func askCall(args []string, stdin io.Reader, stderr io.Writer) (call, error) {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(stderr)
	k := fs.Int("k", 0, "number of examples to retrieve (0 uses the server default)")
	agent := fs.String("agent", "", "agent type: generate, explain or long_answer")
	exclude := fs.String("exclude", "", "comma-separated table names to leave out")
	noValidate := fs.Bool("no-validate", false, "skip SQL validation")
	if err := fs.Parse(args); err != nil {
		return call{}, err
	}
	question, err := textArg(fs.Args(), stdin, "question")
	if err != nil {
		return call{}, err
	}
	body := map[string]any{"question": question}
	if *k > 0 {
		body["k"] = *k
	}
	if strings.TrimSpace(*agent) != "" {
		body["agent_type"] = strings.TrimSpace(*agent)
	}
	if tables := splitList(*exclude); len(tables) > 0 {
		body["excluded_tables"] = tables
	}
	if *noValidate {
		body["validation_enabled"] = false
	}
	return call{method: http.MethodPost, path: "/v1/pipeline/run", body: body}, nil
}

func executeCall(dryRun bool, args []string, stdin io.Reader, stderr io.Writer) (call, error) {
	fs := flag.NewFlagSet("execute", flag.ContinueOnError)
	fs.SetOutput(stderr)
	maxBytes := fs.Int64("max-bytes", 0, "maximum bytes billed (0 uses the policy ceiling)")
	queryTimeout := fs.Duration("query-timeout", 0, "query timeout (0 uses the policy default)")
	if err := fs.Parse(args); err != nil {
		return call{}, err
	}
	sql, err := textArg(fs.Args(), stdin, "sql")
	if err != nil {
		return call{}, err
	}
	body := map[string]any{"sql": sql, "dry_run": dryRun}
	if *maxBytes > 0 {
		body["max_bytes_billed"] = *maxBytes
	}
	if *queryTimeout > 0 {
		body["timeout_ms"] = queryTimeout.Milliseconds()
	}
	return call{method: http.MethodPost, path: "/v1/sql/execute", body: body}, nil
}

// textArg joins the remaining arguments, or reads stdin when the only
// argument is "-".
func textArg(args []string, stdin io.Reader, name string) (string, error) {
	var text string
	if len(args) == 1 && args[0] == "-" {
		if stdin == nil {
			return "", fmt.Errorf("%s: stdin is not available", name)
		}
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read %s from stdin: %w", name, err)
		}
		text = string(raw)
	} else {
		text = strings.Join(args, " ")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return text, nil
}

func doRequest(ctx context.Context, client *http.Client, c call, url, apiKey string) (int, []byte, error) {
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querypilotctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                      GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                       GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema [table]              GET /v1/schema[/table]")
	_, _ = fmt.Fprintln(w, "  ask [flags] <question|->    POST /v1/pipeline/run")
	_, _ = fmt.Fprintln(w, "  validate <sql|->            POST /v1/sql/validate")
	_, _ = fmt.Fprintln(w, "  execute [flags] <sql|->     POST /v1/sql/execute")
	_, _ = fmt.Fprintln(w, "  dry-run [flags] <sql|->     POST /v1/sql/execute with dry_run")
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
