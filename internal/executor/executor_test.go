package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/apperr"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/query"
)

type fakeWarehouse struct {
	mu       sync.Mutex
	jobs     []query.Job
	estimate int64
	rows     [][]any
	err      error
	block    bool
}

func (f *fakeWarehouse) Run(ctx context.Context, job query.Job) (query.JobResult, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	if f.block {
		time.Sleep(time.Second)
		return query.JobResult{}, nil
	}
	if f.err != nil {
		return query.JobResult{}, f.err
	}
	if job.DryRun {
		return query.JobResult{JobID: "dry", BytesProcessed: f.estimate}, nil
	}
	return query.JobResult{JobID: "job-1", Columns: []string{"n"}, Rows: f.rows, BytesProcessed: f.estimate, BytesBilled: f.estimate, CacheHit: true}, nil
}

func (f *fakeWarehouse) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func newTestExecutor(t *testing.T, wh query.Warehouse, mutate func(*Policy)) *Executor {
	t.Helper()
	policy := DefaultPolicy()
	if mutate != nil {
		mutate(&policy)
	}
	ex, err := New(wh, policy, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return ex
}

func TestExecuteBlocksDenylistedStatement(t *testing.T) {
	wh := &fakeWarehouse{}
	res := newTestExecutor(t, wh, nil).Execute(context.Background(), Request{SQL: "DROP TABLE users;"})
	if res.Success || res.ErrorMessage != "blocked keyword: DROP" || res.ErrorKind != apperr.ExecutionSafety {
		t.Fatalf("Execute() = %+v", res)
	}
	if wh.calls() != 0 {
		t.Fatalf("warehouse calls = %d, want 0", wh.calls())
	}
}

func TestPolicyCheckOrder(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		sql    string
		reason string
		msg    string
	}{
		{sql: "   ", reason: "empty"},
		{sql: "SELECT 1; DELETE FROM users;", reason: "denylist", msg: "blocked keyword: DELETE"},
		{sql: "SHOW TABLES;", reason: "verb"},
		{sql: "SELECT 1; SELECT 2;", reason: "multi_statement"},
		{sql: "SELECT id FROM users", reason: "terminator", msg: "SQL must end with ;"},
	}
	for _, tc := range cases {
		v := p.Check(tc.sql)
		if v == nil || v.Reason != tc.reason {
			t.Fatalf("Check(%q) = %+v, want reason %q", tc.sql, v, tc.reason)
		}
		if tc.msg != "" && v.Message != tc.msg {
			t.Fatalf("Check(%q) message = %q, want %q", tc.sql, v.Message, tc.msg)
		}
		if !apperr.Is(v.Err(), apperr.ExecutionSafety) {
			t.Fatalf("Err() kind = %q", apperr.KindOf(v.Err()))
		}
	}
	for _, ok := range []string{
		"SELECT 'drop table x; --' AS s FROM users;",
		"WITH a AS (SELECT 1 AS v FROM t) SELECT v FROM a;",
		"SELECT created_at, `update` FROM demo.shop.users;",
	} {
		if v := p.Check(ok); v != nil {
			t.Fatalf("Check(%q) = %+v, want nil", ok, v)
		}
	}
}

func TestExecuteMissingTerminatorIsRejected(t *testing.T) {
	wh := &fakeWarehouse{}
	res := newTestExecutor(t, wh, nil).Execute(context.Background(), Request{SQL: "SELECT * FROM nowhere_at_all"})
	if res.Success || res.ErrorMessage != "SQL must end with ;" {
		t.Fatalf("Execute() = %+v", res)
	}
	if wh.calls() != 0 {
		t.Fatal("no warehouse call expected")
	}
}

func TestExecuteDryRunNeverReturnsRows(t *testing.T) {
	wh := &fakeWarehouse{estimate: 4096, rows: [][]any{{1}}}
	res := newTestExecutor(t, wh, nil).Execute(context.Background(), Request{SQL: "SELECT 1 AS n FROM t;", DryRun: true})
	if !res.Success || res.Rows != nil || res.BytesProcessed != 4096 {
		t.Fatalf("Execute() = %+v", res)
	}
	if wh.calls() != 1 || !wh.jobs[0].DryRun {
		t.Fatalf("jobs = %+v", wh.jobs)
	}
}

func TestExecuteDryRunEstimateIsNonNegative(t *testing.T) {
	wh := &fakeWarehouse{estimate: -1}
	res := newTestExecutor(t, wh, nil).Execute(context.Background(), Request{SQL: "SELECT 1 AS n FROM t;", DryRun: true})
	if !res.Success || res.BytesProcessed != 0 {
		t.Fatalf("Execute() = %+v", res)
	}
}

func TestExecuteRunsAfterEstimateWithinCeiling(t *testing.T) {
	wh := &fakeWarehouse{estimate: 100, rows: [][]any{{1}, {2}, {3}}}
	ex := newTestExecutor(t, wh, func(p *Policy) {
		p.MaxRows = 2
		p.MaxBytesBilled = 1000
	})
	res := ex.Execute(context.Background(), Request{SQL: "SELECT n FROM t;", MaxBytesBilled: 5000})
	if !res.Success || res.RowCount != 2 || !res.CacheHit || res.JobID != "job-1" {
		t.Fatalf("Execute() = %+v", res)
	}
	real := wh.jobs[1]
	if real.DryRun || real.MaxBytesBilled != 1000 || real.RowLimit != 2 {
		t.Fatalf("real job = %+v", real)
	}
}

func TestExecuteRefusesEstimateAboveCeiling(t *testing.T) {
	wh := &fakeWarehouse{estimate: 1 << 20}
	res := newTestExecutor(t, wh, nil).Execute(context.Background(), Request{SQL: "SELECT n FROM t;", MaxBytesBilled: 1024})
	if res.Success || res.ErrorKind != apperr.ExecutionSafety {
		t.Fatalf("Execute() = %+v", res)
	}
	if wh.calls() != 1 {
		t.Fatalf("warehouse calls = %d, want dry run only", wh.calls())
	}
}

func TestExecuteReportsWarehouseErrors(t *testing.T) {
	wh := &fakeWarehouse{err: errors.New("Syntax error at [1:8]")}
	res := newTestExecutor(t, wh, nil).Execute(context.Background(), Request{SQL: "SELECT n FROM t;"})
	if res.Success || res.ErrorKind != apperr.ExecutionRuntime || res.ErrorMessage != "Syntax error at [1:8]" {
		t.Fatalf("Execute() = %+v", res)
	}
}

func TestExecuteTimesOutEvenWhenClientIgnoresContext(t *testing.T) {
	wh := &fakeWarehouse{block: true}
	ex := newTestExecutor(t, wh, nil)
	started := time.Now()
	res := ex.Execute(context.Background(), Request{SQL: "SELECT n FROM t;", Timeout: 20 * time.Millisecond})
	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Fatalf("Execute() took %s", elapsed)
	}
	if res.Success || res.ErrorKind != apperr.ExecutionRuntime || res.ErrorMessage != "query timed out after 20ms" {
		t.Fatalf("Execute() = %+v", res)
	}
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	raw := "allowed_verbs: [select, with, explain]\nmax_bytes_billed: 2048\ndefault_timeout: 10s\nmax_rows: 50\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if len(p.AllowedVerbs) != 3 || p.AllowedVerbs[2] != "EXPLAIN" || p.MaxBytesBilled != 2048 || p.DefaultTimeout != 10*time.Second || p.MaxRows != 50 {
		t.Fatalf("LoadPolicy() = %+v", p)
	}
	if len(p.Denylist) != len(DefaultPolicy().Denylist) {
		t.Fatal("unset keys should keep defaults")
	}
}

func TestParsePolicyRejectsWriteVerbsAndUnknownKeys(t *testing.T) {
	if _, err := ParsePolicy([]byte("allowed_verbs: [SELECT, INSERT]\n")); err == nil {
		t.Fatal("expected error for INSERT verb")
	}
	if _, err := ParsePolicy([]byte("max_rowz: 5\n")); err == nil {
		t.Fatal("expected error for unknown key")
	}
	if _, err := ParsePolicy(nil); err != nil {
		t.Fatalf("ParsePolicy(nil) error = %v", err)
	}
}

func TestParsePolicyKeepsRequiredDenylist(t *testing.T) {
	p, err := ParsePolicy([]byte("denylist: []\n"))
	if err != nil {
		t.Fatalf("ParsePolicy() error = %v", err)
	}
	if v := p.Check("WITH x AS (SELECT 1) DELETE FROM users;"); v == nil || v.Message != "blocked keyword: DELETE" {
		t.Fatalf("Check() = %v, want blocked DELETE", v)
	}

	p, err = ParsePolicy([]byte("denylist: [copy, drop]\n"))
	if err != nil {
		t.Fatalf("ParsePolicy() error = %v", err)
	}
	if len(p.Denylist) != len(RequiredDenylist)+1 || p.Denylist[len(p.Denylist)-1] != "COPY" {
		t.Fatalf("Denylist = %#v", p.Denylist)
	}
	if v := p.Check("SELECT 1 FROM users; COPY users TO 'x';"); v == nil || v.Reason != "denylist" {
		t.Fatalf("Check() = %v", v)
	}

	bare := Policy{AllowedVerbs: []string{"SELECT", "WITH"}}
	if v := bare.Check("WITH x AS (SELECT 1) TRUNCATE users;"); v == nil || v.Message != "blocked keyword: TRUNCATE" {
		t.Fatalf("Check() on empty denylist = %v", v)
	}
}

func TestPolicyFromConfigAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("max_rows: 50\nmax_bytes_billed: 4096\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	p, err := PolicyFromConfig(config.ExecutorConfig{PolicyFile: path, MaxRows: 10, MaxTimeout: time.Minute})
	if err != nil {
		t.Fatalf("PolicyFromConfig() error = %v", err)
	}
	if p.MaxRows != 10 || p.MaxBytesBilled != 4096 || p.MaxTimeout != time.Minute {
		t.Fatalf("PolicyFromConfig() = %+v", p)
	}

	p, err = PolicyFromConfig(config.ExecutorConfig{})
	if err != nil {
		t.Fatalf("PolicyFromConfig(zero) error = %v", err)
	}
	if p.MaxBytesBilled != DefaultPolicy().MaxBytesBilled {
		t.Fatalf("MaxBytesBilled = %d", p.MaxBytesBilled)
	}

	if _, err := PolicyFromConfig(config.ExecutorConfig{DefaultTimeout: time.Hour}); err == nil {
		t.Fatal("expected error when default timeout exceeds max timeout")
	}
}

type recordingSink struct {
	entries []AuditEntry
	err     error
}

func (r *recordingSink) Record(_ context.Context, entry AuditEntry) error {
	r.entries = append(r.entries, entry)
	return r.err
}

func TestExecuteRecordsAuditEntries(t *testing.T) {
	sink := &recordingSink{err: errors.New("audit db down")}
	ex := newTestExecutor(t, &fakeWarehouse{estimate: 10, rows: [][]any{{1}}}, nil).WithAudit(sink)

	blocked := ex.Execute(context.Background(), Request{SQL: "DROP TABLE users;", Subject: "analyst"})
	ok := ex.Execute(context.Background(), Request{SQL: "SELECT 1 FROM users;", Subject: "analyst"})
	if blocked.Success || !ok.Success {
		t.Fatalf("results = %+v / %+v", blocked, ok)
	}
	if len(sink.entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(sink.entries))
	}
	if sink.entries[0].ErrorKind != apperr.ExecutionSafety || sink.entries[0].Subject != "analyst" {
		t.Fatalf("blocked entry = %+v", sink.entries[0])
	}
	if !sink.entries[1].Success || sink.entries[1].JobID != "job-1" || sink.entries[1].BytesProcessed != 10 {
		t.Fatalf("success entry = %+v", sink.entries[1])
	}
}
