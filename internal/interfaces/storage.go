package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/stockpulse/internal/models"
)

var (
	// ErrRecordNotFound is returned when no record exists for an identity key
	ErrRecordNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned when an insert loses to an existing identity key
	ErrDuplicateKey = errors.New("duplicate identity key")
)

// RecordQuery selects stored records. Empty fields do not filter.
type RecordQuery struct {
	Sector    string
	CompanyID string
	Range     models.DateRange
}

// RecordStorage persists StockRecords under a unique (company_id, trade_date) key
type RecordStorage interface {
	// Insert stores a new record. Returns ErrDuplicateKey when the key already exists,
	// including when a concurrent writer committed the same key first.
	Insert(ctx context.Context, record *models.StockRecord) error

	// Get loads a record by identity key. Returns ErrRecordNotFound when absent.
	Get(ctx context.Context, companyID, day string) (*models.StockRecord, error)

	// Find returns matching records ordered by company then trade date
	Find(ctx context.Context, query RecordQuery) ([]*models.StockRecord, error)

	// Sectors lists the distinct sectors present in the store
	Sectors(ctx context.Context) ([]string, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int, error)
}

// IngestionRunStorage persists the ingestion run log
type IngestionRunStorage interface {
	SaveRun(ctx context.Context, run *models.IngestionRun) error
	GetRun(ctx context.Context, id string) (*models.IngestionRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.IngestionRun, error)
	LatestRun(ctx context.Context) (*models.IngestionRun, error)
}

// StorageManager owns the store handle and exposes the typed storages
type StorageManager interface {
	RecordStorage() RecordStorage
	IngestionRunStorage() IngestionRunStorage
	Close() error
}
