package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// appStatsKey is the singleton key of the service-wide stats document.
const appStatsKey = "appstats"

// AccountingStorage implements the AccountingStorage interface for Badger.
type AccountingStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAccountingStorage creates a new AccountingStorage instance
func NewAccountingStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AccountingStorage {
	return &AccountingStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AccountingStorage) UpsertUserAccounting(ctx context.Context, acc *models.UserAccounting) error {
	if acc.User == "" {
		return fmt.Errorf("accounting user is required")
	}
	if err := s.db.Store().Upsert(acc.User, acc); err != nil {
		return fmt.Errorf("failed to save user accounting: %w", err)
	}
	return nil
}

func (s *AccountingStorage) GetUserAccounting(ctx context.Context, user string) (*models.UserAccounting, error) {
	var acc models.UserAccounting
	if err := s.db.Store().Get(user, &acc); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user accounting: %w", err)
	}
	return &acc, nil
}

func (s *AccountingStorage) UpsertAppStats(ctx context.Context, stats *models.AppStats) error {
	if err := s.db.Store().Upsert(appStatsKey, stats); err != nil {
		return fmt.Errorf("failed to save app stats: %w", err)
	}
	return nil
}

func (s *AccountingStorage) GetAppStats(ctx context.Context) (*models.AppStats, error) {
	var stats models.AppStats
	if err := s.db.Store().Get(appStatsKey, &stats); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get app stats: %w", err)
	}
	return &stats, nil
}
