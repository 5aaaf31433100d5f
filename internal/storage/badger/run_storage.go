package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// IngestionRunStorage implements interfaces.IngestionRunStorage for Badger
type IngestionRunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewIngestionRunStorage creates a new IngestionRunStorage instance
func NewIngestionRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.IngestionRunStorage {
	return &IngestionRunStorage{
		db:     db,
		logger: logger,
	}
}

func (s *IngestionRunStorage) SaveRun(ctx context.Context, run *models.IngestionRun) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return &models.StorageError{Op: "save run", Err: err}
	}
	return nil
}

func (s *IngestionRunStorage) GetRun(ctx context.Context, id string) (*models.IngestionRun, error) {
	var run models.IngestionRun
	if err := s.db.Store().Get(id, &run); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("ingestion run not found: %s", id)
		}
		return nil, &models.StorageError{Op: "get run", Err: err}
	}
	return &run, nil
}

func (s *IngestionRunStorage) ListRuns(ctx context.Context, limit int) ([]*models.IngestionRun, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []models.IngestionRun
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, &models.StorageError{Op: "list runs", Err: err}
	}

	result := make([]*models.IngestionRun, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

// LatestRun returns the most recent completed run, nil when none exists
func (s *IngestionRunStorage) LatestRun(ctx context.Context) (*models.IngestionRun, error) {
	var runs []models.IngestionRun
	query := badgerhold.Where("Status").Eq(models.RunStatusCompleted).SortBy("FinishedAt").Reverse().Limit(1)
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, &models.StorageError{Op: "latest run", Err: err}
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}
