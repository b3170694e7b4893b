// Package bigquery runs warehouse jobs on Google BigQuery.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/querypilot/querypilot/internal/query"
)

type Config struct {
	ProjectID       string
	Location        string
	CredentialsFile string
}

type jobSpec struct {
	JobID          string
	SQL            string
	DryRun         bool
	MaxBytesBilled int64
	RowLimit       int
}

type jobOutput struct {
	JobID          string
	Columns        []string
	Rows           [][]any
	BytesProcessed int64
	BytesBilled    int64
	CacheHit       bool
}

type client interface {
	run(ctx context.Context, spec jobSpec) (jobOutput, error)
	Close() error
}

type Warehouse struct {
	client client
}

func New(ctx context.Context, cfg Config) (*Warehouse, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, fmt.Errorf("bigquery project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	bq, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	if cfg.Location != "" {
		bq.Location = cfg.Location
	}
	return &Warehouse{client: &sdkClient{bq: bq}}, nil
}

func (w *Warehouse) Close() error {
	return w.client.Close()
}

func (w *Warehouse) Run(ctx context.Context, job query.Job) (query.JobResult, error) {
	if strings.TrimSpace(job.SQL) == "" {
		return query.JobResult{}, fmt.Errorf("sql is required")
	}
	start := time.Now()
	out, err := w.client.run(ctx, jobSpec{
		JobID:          "querypilot_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		SQL:            job.SQL,
		DryRun:         job.DryRun,
		MaxBytesBilled: job.MaxBytesBilled,
		RowLimit:       job.RowLimit,
	})
	if err != nil {
		return query.JobResult{}, err
	}
	result := query.JobResult{
		JobID:          out.JobID,
		BytesProcessed: out.BytesProcessed,
		BytesBilled:    out.BytesBilled,
		CacheHit:       out.CacheHit,
		Duration:       time.Since(start),
	}
	if job.DryRun {
		result.BytesBilled = 0
		return result, nil
	}
	if job.MaxBytesBilled > 0 && out.BytesBilled > job.MaxBytesBilled {
		return query.JobResult{}, fmt.Errorf("%w: %d bytes > %d", query.ErrBytesLimitExceeded, out.BytesBilled, job.MaxBytesBilled)
	}
	result.Columns = out.Columns
	result.Rows = out.Rows
	if result.Rows == nil {
		result.Rows = [][]any{}
	}
	return result, nil
}

type sdkClient struct {
	bq *bigquery.Client
}

func (c *sdkClient) Close() error { return c.bq.Close() }

func (c *sdkClient) run(ctx context.Context, spec jobSpec) (jobOutput, error) {
	q := c.bq.Query(spec.SQL)
	q.DryRun = spec.DryRun
	q.MaxBytesBilled = spec.MaxBytesBilled
	if !spec.DryRun {
		q.JobID = spec.JobID
	}

	job, err := q.Run(ctx)
	if err != nil {
		return jobOutput{}, fmt.Errorf("start bigquery job: %w", err)
	}
	out := jobOutput{JobID: job.ID()}
	if spec.DryRun {
		if out.JobID == "" {
			out.JobID = spec.JobID
		}
		status := job.LastStatus()
		if status == nil || status.Statistics == nil {
			return jobOutput{}, errors.New("bigquery dry run returned no statistics")
		}
		out.BytesProcessed = status.Statistics.TotalBytesProcessed
		return out, nil
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return jobOutput{}, fmt.Errorf("wait for bigquery job %s: %w", out.JobID, err)
	}
	if err := status.Err(); err != nil {
		return jobOutput{}, fmt.Errorf("bigquery job %s failed: %w", out.JobID, err)
	}
	if status.Statistics != nil {
		out.BytesProcessed = status.Statistics.TotalBytesProcessed
		if details, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			out.BytesBilled = details.TotalBytesBilled
			out.CacheHit = details.CacheHit
		}
	}

	it, err := job.Read(ctx)
	if err != nil {
		return jobOutput{}, fmt.Errorf("read bigquery job %s: %w", out.JobID, err)
	}
	for spec.RowLimit <= 0 || len(out.Rows) < spec.RowLimit {
		var row []bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return jobOutput{}, fmt.Errorf("iterate bigquery rows: %w", err)
		}
		values := make([]any, len(row))
		for i, v := range row {
			values[i] = v
		}
		out.Rows = append(out.Rows, values)
	}
	for _, field := range it.Schema {
		out.Columns = append(out.Columns, field.Name)
	}
	return out, nil
}
