package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/common"
	"github.com/ternarybob/stockpulse/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	records interfaces.RecordStorage
	runs    interfaces.IngestionRunStorage
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		records: NewRecordStorage(db, logger),
		runs:    NewIngestionRunStorage(db, logger),
		logger:  logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// RecordStorage returns the StockRecord storage interface
func (m *Manager) RecordStorage() interfaces.RecordStorage {
	return m.records
}

// IngestionRunStorage returns the ingestion run log storage interface
func (m *Manager) IngestionRunStorage() interfaces.IngestionRunStorage {
	return m.runs
}

// Close closes the database connection
func (m *Manager) Close() error {
	m.logger.Info().Msg("Closing Badger storage")
	return m.db.Close()
}
