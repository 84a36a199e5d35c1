package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	job        interfaces.JobStorage
	file       interfaces.FileStorage
	accounting interfaces.AccountingStorage
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		job:        NewJobStorage(db, logger),
		file:       NewFileStorage(db, logger),
		accounting: NewAccountingStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// FileStorage returns the file storage interface
func (m *Manager) FileStorage() interfaces.FileStorage {
	return m.file
}

// AccountingStorage returns the accounting storage interface
func (m *Manager) AccountingStorage() interfaces.AccountingStorage {
	return m.accounting
}

// RunGC runs a value log garbage collection pass on the underlying database.
func (m *Manager) RunGC() error {
	return m.db.RunGC()
}

// Close closes the underlying database connection
func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing Badger storage manager")
	return m.db.Close()
}
