// Package executor runs validated SQL against the warehouse behind read-only,
// cost and time guards.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/querypilot/querypilot/internal/apperr"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/query"
)

type Request struct {
	SQL    string
	DryRun bool
	// MaxBytesBilled <= 0 uses the policy ceiling; larger values are clamped
	// to it.
	MaxBytesBilled int64
	// Timeout <= 0 uses the policy default; larger values are clamped to the
	// policy maximum.
	Timeout time.Duration
	// Subject identifies the caller in the audit trail.
	Subject string
}

// Result never carries rows for a dry run.
type Result struct {
	Success        bool          `json:"success"`
	Columns        []string      `json:"columns,omitempty"`
	Rows           [][]any       `json:"rows,omitempty"`
	RowCount       int           `json:"row_count"`
	BytesProcessed int64         `json:"bytes_processed"`
	BytesBilled    int64         `json:"bytes_billed"`
	CacheHit       bool          `json:"cache_hit"`
	ExecutionTime  time.Duration `json:"execution_time"`
	JobID          string        `json:"job_id,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	ErrorKind      apperr.Kind   `json:"error_kind,omitempty"`
}

// AuditEntry is one executor decision, blocked statements included.
type AuditEntry struct {
	JobID          string
	Subject        string
	SQL            string
	DryRun         bool
	Success        bool
	ErrorKind      apperr.Kind
	BytesProcessed int64
	BytesBilled    int64
	Duration       time.Duration
}

type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

type Executor struct {
	warehouse query.Warehouse
	policy    Policy
	logger    *slog.Logger
	audit     AuditSink
}

func New(warehouse query.Warehouse, policy Policy, logger *slog.Logger) (*Executor, error) {
	if warehouse == nil {
		return nil, fmt.Errorf("warehouse is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{warehouse: warehouse, policy: policy, logger: logger}, nil
}

func (e *Executor) Policy() Policy { return e.policy }

// WithAudit records every Execute outcome to sink. Sink failures are logged
// and never change the result.
func (e *Executor) WithAudit(sink AuditSink) *Executor {
	e.audit = sink
	return e
}

// Execute guards, estimates and then runs req.SQL. Every real run is
// preceded by a dry run whose estimate must fit the byte ceiling. The whole
// call returns once the timeout passes, even if the warehouse client does
// not.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	res := e.execute(ctx, req)
	if e.audit != nil {
		entry := AuditEntry{
			JobID:          res.JobID,
			Subject:        req.Subject,
			SQL:            req.SQL,
			DryRun:         req.DryRun,
			Success:        res.Success,
			ErrorKind:      res.ErrorKind,
			BytesProcessed: res.BytesProcessed,
			BytesBilled:    res.BytesBilled,
			Duration:       res.ExecutionTime,
		}
		if err := e.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
			e.logger.Warn("audit record failed", "job_id", res.JobID, "error", err)
		}
	}
	return res
}

func (e *Executor) execute(ctx context.Context, req Request) Result {
	start := time.Now()
	if v := e.policy.Check(req.SQL); v != nil {
		observability.ObserveExecutorBlocked(v.Reason)
		e.logger.Warn("statement blocked", "reason", v.Reason, "message", v.Message)
		return Result{ErrorMessage: v.Message, ErrorKind: apperr.ExecutionSafety, ExecutionTime: time.Since(start)}
	}

	maxBytes := e.maxBytes(req.MaxBytesBilled)
	timeout := e.timeout(req.Timeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	estimate, err := e.call(runCtx, query.Job{SQL: req.SQL, DryRun: true})
	if err != nil {
		return e.failure(err, timeout, req.DryRun, start)
	}
	if maxBytes > 0 && estimate.BytesProcessed > maxBytes {
		observability.ObserveExecutorBlocked("bytes_ceiling")
		msg := fmt.Sprintf("estimated %d bytes exceeds maximum bytes billed %d", estimate.BytesProcessed, maxBytes)
		return Result{
			BytesProcessed: nonNegative(estimate.BytesProcessed),
			JobID:          estimate.JobID,
			ErrorMessage:   msg,
			ErrorKind:      apperr.ExecutionSafety,
			ExecutionTime:  time.Since(start),
		}
	}
	if req.DryRun {
		observability.ObserveExecution(true, true, estimate.BytesProcessed)
		return Result{
			Success:        true,
			BytesProcessed: nonNegative(estimate.BytesProcessed),
			JobID:          estimate.JobID,
			ExecutionTime:  time.Since(start),
		}
	}

	out, err := e.call(runCtx, query.Job{SQL: req.SQL, MaxBytesBilled: maxBytes, RowLimit: e.policy.MaxRows})
	if err != nil {
		return e.failure(err, timeout, false, start)
	}
	rows := out.Rows
	if len(rows) > e.policy.MaxRows {
		rows = rows[:e.policy.MaxRows]
	}
	observability.ObserveExecution(false, true, out.BytesProcessed)
	e.logger.Info("query executed", "job_id", out.JobID, "rows", len(rows), "bytes_processed", out.BytesProcessed, "cache_hit", out.CacheHit)
	return Result{
		Success:        true,
		Columns:        out.Columns,
		Rows:           rows,
		RowCount:       len(rows),
		BytesProcessed: nonNegative(out.BytesProcessed),
		BytesBilled:    nonNegative(out.BytesBilled),
		CacheHit:       out.CacheHit,
		ExecutionTime:  time.Since(start),
		JobID:          out.JobID,
	}
}

// call runs one job and gives up when ctx is done, leaving a stalled client
// call behind.
func (e *Executor) call(ctx context.Context, job query.Job) (query.JobResult, error) {
	type outcome struct {
		result query.JobResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := e.warehouse.Run(ctx, job)
		done <- outcome{result: result, err: err}
	}()
	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return query.JobResult{}, ctx.Err()
	}
}

func (e *Executor) failure(err error, timeout time.Duration, dryRun bool, start time.Time) Result {
	observability.ObserveExecution(dryRun, false, 0)
	res := Result{ErrorKind: apperr.ExecutionRuntime, ErrorMessage: err.Error(), ExecutionTime: time.Since(start)}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		res.ErrorMessage = fmt.Sprintf("query timed out after %s", timeout)
	case errors.Is(err, query.ErrBytesLimitExceeded):
		res.ErrorKind = apperr.ExecutionSafety
	}
	e.logger.Warn("query failed", "kind", res.ErrorKind, "error", err)
	return res
}

func (e *Executor) maxBytes(requested int64) int64 {
	ceiling := e.policy.MaxBytesBilled
	if requested <= 0 {
		return ceiling
	}
	if ceiling > 0 && requested > ceiling {
		return ceiling
	}
	return requested
}

func (e *Executor) timeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return e.policy.DefaultTimeout
	}
	if requested > e.policy.MaxTimeout {
		return e.policy.MaxTimeout
	}
	return requested
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
