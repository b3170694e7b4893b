// Package postgres persists executor audit entries in the query_audit table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/querypilot/querypilot/internal/executor"
)

const insertAudit = `
INSERT INTO query_audit (job_id, subject, sql_text, dry_run, success, error_kind, bytes_processed, bytes_billed, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

type AuditRecorder struct {
	db *sql.DB
}

func NewAuditRecorder(db *sql.DB) (*AuditRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &AuditRecorder{db: db}, nil
}

// Record inserts entry. Blocked statements never reached the warehouse and
// get a local id.
func (r *AuditRecorder) Record(ctx context.Context, entry executor.AuditEntry) error {
	jobID := strings.TrimSpace(entry.JobID)
	if jobID == "" {
		jobID = "local_" + uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, insertAudit,
		jobID,
		entry.Subject,
		entry.SQL,
		entry.DryRun,
		entry.Success,
		string(entry.ErrorKind),
		entry.BytesProcessed,
		entry.BytesBilled,
		entry.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert query audit: %w", err)
	}
	return nil
}
