// -----------------------------------------------------------------------
// Accounting - Periodic per-user usage aggregation
// -----------------------------------------------------------------------

package accounting

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
)

// Service recomputes the per-user accounting snapshots and the service-wide
// stats document on every cycle. Aggregation is a full rescan: snapshots are
// overwritten, never incremented.
type Service struct {
	cfg        *common.Config
	jobs       interfaces.JobStorage
	accounting interfaces.AccountingStorage
	logger     arbor.ILogger
}

// NewService creates the accounting aggregator.
func NewService(cfg *common.Config, jobs interfaces.JobStorage,
	accounting interfaces.AccountingStorage, logger arbor.ILogger) *Service {
	return &Service{
		cfg:        cfg,
		jobs:       jobs,
		accounting: accounting,
		logger:     logger,
	}
}

// Aggregate runs one accounting cycle across every user that owns jobs.
func (s *Service) Aggregate(ctx context.Context) error {
	users, err := s.jobs.Users(ctx)
	if err != nil {
		return err
	}

	stats := &models.AppStats{}
	for _, user := range users {
		acc, err := s.aggregateUser(ctx, user)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("user", user).
				Msg("User accounting failed")
			continue
		}
		if err := s.accounting.UpsertUserAccounting(ctx, acc); err != nil {
			s.logger.Warn().Err(err).
				Str("user", user).
				Msg("Failed to save user accounting")
			continue
		}
		stats.Merge(acc)
	}

	stats.Finalize()
	if err := s.accounting.UpsertAppStats(ctx, stats); err != nil {
		return err
	}

	s.logger.Debug().
		Int("users", stats.NUsers).
		Int("jobs", stats.NJobs).
		Msg("Accounting cycle completed")
	return nil
}

func (s *Service) aggregateUser(ctx context.Context, user string) (*models.UserAccounting, error) {
	acc := &models.UserAccounting{
		User:      user,
		DataSize:  dirSize(filepath.Join(s.cfg.Uploads.DataRoot, user)),
		JobSize:   dirSize(filepath.Join(s.cfg.Jobs.JobRoot, user)),
		UpdatedAt: time.Now().UTC(),
	}

	jobs, err := s.jobs.List(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		acc.Tally(job)
	}
	return acc, nil
}

// dirSize sums regular-file sizes under root. A missing directory counts as
// zero.
func dirSize(root string) int64 {
	var total int64
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}
