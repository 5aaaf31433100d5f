package interfaces

import (
	"context"
	"io"

	"github.com/ternarybob/stockpulse/internal/models"
)

// RowSource streams raw rows from a batch source (file, upload, network batch).
// Next returns io.EOF after the last row. A *models.ValidationError from Next
// rejects that row only; any other error aborts the batch.
type RowSource interface {
	Name() string
	Next(ctx context.Context) (models.RawRow, error)
	// Row returns the 1-based data row number of the last row returned by Next
	Row() int
	Close() error
}

// IngestionService applies batch sources to the store
type IngestionService interface {
	Ingest(ctx context.Context, source RowSource) (*models.IngestionReport, error)
	IngestReader(ctx context.Context, name string, r io.Reader) (*models.IngestionReport, error)
	IngestFile(ctx context.Context, path string) (*models.IngestionReport, error)
	IngestDirectory(ctx context.Context, dir string) (*models.IngestionReport, error)
}
