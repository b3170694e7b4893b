// Package maintenance runs background checks over the object-store warehouse
// the duckdb engine reads.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/storage"
)

const maxIssueSamples = 20

type Config struct {
	// Root is the object key prefix of the warehouse.
	Root string
	// Project limits the check to catalog tables of this project. Empty
	// checks every three-part name.
	Project           string
	IntegrityInterval time.Duration
}

// Service compares the schema catalog with the parquet files in the object
// store. A table the catalog names but the store lacks would make every
// query over it fail at run time.
type Service struct {
	Catalog     *catalog.Catalog
	ObjectStore storage.ObjectStore
	Config      Config
	Logger      *slog.Logger

	mu   sync.RWMutex
	last *IntegritySummary
	err  error
}

type IntegritySummary struct {
	TablesChecked       int              `json:"tables_checked"`
	TablesSkipped       int              `json:"tables_skipped"`
	FilesFound          int              `json:"files_found"`
	BytesFound          int64            `json:"bytes_found"`
	MissingTables       []string         `json:"missing_tables"`
	TableBytes          map[string]int64 `json:"table_bytes"`
	OperationalFailures int              `json:"operational_failures"`
	CheckedAt           time.Time        `json:"checked_at"`
}

// Run checks once immediately and then every IntegrityInterval until ctx is
// done. A zero interval returns right after the first check.
func (s *Service) Run(ctx context.Context) error {
	s.checkAndLog(ctx)
	if s.Config.IntegrityInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.Config.IntegrityInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.checkAndLog(ctx)
		}
	}
}

func (s *Service) checkAndLog(ctx context.Context) {
	summary, err := s.RunIntegrityCheckOnce(ctx)
	if s.Logger == nil {
		return
	}
	if err != nil {
		s.Logger.ErrorContext(ctx, "warehouse integrity check failed", slog.Any("error", err), slog.Any("summary", summary))
		return
	}
	s.Logger.InfoContext(ctx, "warehouse integrity check completed",
		slog.Int("tables_checked", summary.TablesChecked),
		slog.Int("files_found", summary.FilesFound),
		slog.Int64("bytes_found", summary.BytesFound),
	)
}

func (s *Service) RunIntegrityCheckOnce(ctx context.Context) (IntegritySummary, error) {
	if s.Catalog == nil {
		return IntegritySummary{}, fmt.Errorf("catalog is required")
	}
	if s.ObjectStore == nil {
		return IntegritySummary{}, fmt.Errorf("object store is required")
	}

	summary := IntegritySummary{TableBytes: map[string]int64{}, CheckedAt: time.Now().UTC()}
	issueSamples := make([]string, 0, maxIssueSamples)
	issueCount := 0
	addIssue := func(message string) {
		issueCount++
		if len(issueSamples) < maxIssueSamples {
			issueSamples = append(issueSamples, message)
		}
	}

	for _, table := range s.Catalog.Tables() {
		if !s.inScope(table) {
			summary.TablesSkipped++
			continue
		}
		summary.TablesChecked++

		prefix, err := storage.TablePrefix(s.Config.Root, table.Dataset(), table.ShortName())
		if err != nil {
			summary.OperationalFailures++
			addIssue(fmt.Sprintf("table %s: %v", table.QualifiedName, err))
			continue
		}
		objects, err := s.ObjectStore.List(ctx, prefix)
		if err != nil {
			summary.OperationalFailures++
			addIssue(fmt.Sprintf("table %s list %s: %v", table.QualifiedName, prefix, err))
			continue
		}

		var files int
		var bytes int64
		for _, obj := range objects {
			if !storage.IsParquetKey(obj.Key) {
				continue
			}
			files++
			bytes += obj.Size
		}
		if files == 0 {
			summary.MissingTables = append(summary.MissingTables, table.QualifiedName)
			addIssue(fmt.Sprintf("table %s has no parquet files under %s", table.QualifiedName, prefix))
			continue
		}
		summary.FilesFound += files
		summary.BytesFound += bytes
		summary.TableBytes[table.QualifiedName] = bytes
		warehouseTableBytes.WithLabelValues(table.QualifiedName).Set(float64(bytes))
	}

	if summary.TablesChecked > 0 {
		integrityTablesCheckedTotal.Add(float64(summary.TablesChecked))
	}
	if len(summary.MissingTables) > 0 {
		integrityMissingTablesTotal.Add(float64(len(summary.MissingTables)))
	}

	var err error
	if issueCount > 0 {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		extra := issueCount - len(issueSamples)
		if extra > 0 {
			err = fmt.Errorf("integrity check found %d issue(s): %s; ... plus %d more", issueCount, strings.Join(issueSamples, "; "), extra)
		} else {
			err = fmt.Errorf("integrity check found %d issue(s): %s", issueCount, strings.Join(issueSamples, "; "))
		}
	} else {
		integrityRunsTotal.WithLabelValues("completed").Inc()
	}

	s.mu.Lock()
	s.last = &summary
	s.err = err
	s.mu.Unlock()
	return summary, err
}

// Ready reports the result of the last check. It fails until a check has
// completed without issues.
func (s *Service) Ready(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return fmt.Errorf("warehouse integrity has not been checked yet")
	}
	return s.err
}

// Last returns the most recent summary, if any.
func (s *Service) Last() (IntegritySummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return IntegritySummary{}, false
	}
	return *s.last, true
}

func (s *Service) inScope(table catalog.Table) bool {
	parts := strings.Split(table.QualifiedName, ".")
	if len(parts) < 2 {
		return false
	}
	if s.Config.Project == "" || len(parts) < 3 {
		return true
	}
	return strings.EqualFold(parts[len(parts)-3], s.Config.Project)
}
