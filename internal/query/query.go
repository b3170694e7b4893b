// Package query defines the warehouse boundary: one job runs (or dry-runs)
// one read-only statement under a byte ceiling and a row limit.
package query

import (
	"context"
	"errors"
	"time"
)

// ErrBytesLimitExceeded is returned when a job would process more bytes than
// its MaxBytesBilled.
var ErrBytesLimitExceeded = errors.New("query exceeds maximum bytes billed")

type Job struct {
	SQL    string
	DryRun bool
	// MaxBytesBilled <= 0 means no limit.
	MaxBytesBilled int64
	// RowLimit <= 0 means no limit.
	RowLimit int
}

type JobResult struct {
	JobID          string
	Columns        []string
	Rows           [][]any
	BytesProcessed int64
	BytesBilled    int64
	CacheHit       bool
	Duration       time.Duration
}

// Warehouse runs jobs. Implementations must honour ctx cancellation where
// their client allows it.
type Warehouse interface {
	Run(ctx context.Context, job Job) (JobResult, error)
}
