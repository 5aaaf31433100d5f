package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// maxInsertAttempts bounds retries after a badger transaction conflict on a key that is still absent
const maxInsertAttempts = 5

// RecordStorage implements interfaces.RecordStorage on badgerhold.
// badgerhold.Insert fails with ErrKeyExists inside the write transaction, which makes
// the identity key a real uniqueness constraint at the storage boundary.
type RecordStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRecordStorage creates a new RecordStorage instance
func NewRecordStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RecordStorage {
	return &RecordStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RecordStorage) Insert(ctx context.Context, record *models.StockRecord) error {
	if record.CompanyID == "" || record.Day == "" {
		return fmt.Errorf("record identity key is required")
	}
	record.Key = record.IdentityKey()

	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.db.Store().Insert(record.Key, record)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, badgerhold.ErrKeyExists):
			return interfaces.ErrDuplicateKey
		case errors.Is(err, badgerdb.ErrConflict):
			// A concurrent transaction touched the key. If it committed the key we lost.
			if _, getErr := s.Get(ctx, record.CompanyID, record.Day); getErr == nil {
				return interfaces.ErrDuplicateKey
			}
			s.logger.Debug().
				Str("key", record.Key).
				Int("attempt", attempt).
				Msg("Transaction conflict on insert, retrying")
		default:
			return &models.StorageError{Op: "insert", Err: err}
		}
	}

	return &models.StorageError{Op: "insert", Err: fmt.Errorf("gave up on %s after %d conflicting attempts", record.Key, maxInsertAttempts)}
}

func (s *RecordStorage) Get(ctx context.Context, companyID, day string) (*models.StockRecord, error) {
	var record models.StockRecord
	if err := s.db.Store().Get(models.RecordKey(companyID, day), &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrRecordNotFound
		}
		return nil, &models.StorageError{Op: "get", Err: err}
	}
	return &record, nil
}

func (s *RecordStorage) Find(ctx context.Context, query interfaces.RecordQuery) ([]*models.StockRecord, error) {
	var q *badgerhold.Query
	where := func(field string) *badgerhold.Criterion {
		if q == nil {
			return badgerhold.Where(field)
		}
		return q.And(field)
	}

	if query.Sector != "" {
		q = where("Sector").Eq(query.Sector)
	}
	if query.CompanyID != "" {
		q = where("CompanyID").Eq(query.CompanyID)
	}
	if from := query.Range.FromDay(); from != "" {
		q = where("Day").Ge(from)
	}
	if to := query.Range.ToDay(); to != "" {
		q = where("Day").Le(to)
	}
	if q == nil {
		q = badgerhold.Where("Key").Ne("") // Select all
	}

	var records []models.StockRecord
	if err := s.db.Store().Find(&records, q.SortBy("CompanyID", "Day")); err != nil {
		return nil, &models.StorageError{Op: "find", Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := make([]*models.StockRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *RecordStorage) Sectors(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.db.Store().ForEach(badgerhold.Where("Sector").Ne(""), func(record *models.StockRecord) error {
		seen[record.Sector] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, &models.StorageError{Op: "list sectors", Err: err}
	}

	sectors := make([]string, 0, len(seen))
	for sector := range seen {
		sectors = append(sectors, sector)
	}
	sort.Strings(sectors)
	return sectors, nil
}

func (s *RecordStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.StockRecord{}, nil)
	if err != nil {
		return 0, &models.StorageError{Op: "count", Err: err}
	}
	return int(count), nil
}
