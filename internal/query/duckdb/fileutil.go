package duckdb

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/querypilot/querypilot/internal/storage"
)

// download copies obj to localPath. A copy whose length differs from the
// listed size fails, so a table is never loaded from a truncated file.
func (e *Engine) download(ctx context.Context, obj storage.ObjectInfo, localPath string) error {
	reader, err := e.Store.Get(ctx, obj.Key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", obj.Key, err)
	}
	written, err := writeFile(localPath, reader)
	if err != nil {
		_ = reader.Close()
		return fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	if err := reader.Close(); err != nil {
		return fmt.Errorf("close object %q: %w", obj.Key, err)
	}
	if obj.Size > 0 && written != obj.Size {
		return fmt.Errorf("object %q: copied %d of %d bytes", obj.Key, written, obj.Size)
	}
	return nil
}

func writeFile(path string, reader io.Reader) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return written, err
}
