package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/caelum/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// JobStorage persists job records partitioned per user. (User, JobID) is
// unique; updates are atomic per document.
type JobStorage interface {
	// Insert creates a new job record. Inserting an existing (user, job_id)
	// pair is an error.
	Insert(ctx context.Context, job *models.Job) error

	// Update applies a partial update to the named fields of one record.
	// Unknown fields are rejected; a missing record is an error.
	Update(ctx context.Context, user, jobID string, fields map[string]interface{}) error

	// Get returns one record or ErrNotFound.
	Get(ctx context.Context, user, jobID string) (*models.Job, error)

	// List returns every record in the user's partition, newest first.
	List(ctx context.Context, user string) ([]*models.Job, error)

	// ListByState returns the user's records in the given state.
	ListByState(ctx context.Context, user string, state models.JobState) ([]*models.Job, error)

	// FindUnfinishedAllUsers returns jobs in {PENDING, STARTED, RUNNING}
	// across every user partition in one discovery query.
	FindUnfinishedAllUsers(ctx context.Context) ([]*models.Job, error)

	// Users returns every user that owns at least one job record.
	Users(ctx context.Context) ([]string, error)
}

// FileStorage persists the per-user upload registry.
type FileStorage interface {
	SaveFile(ctx context.Context, file *models.FileUpload) error
	GetFile(ctx context.Context, user, fileID string) (*models.FileUpload, error)
	ListFiles(ctx context.Context, user string) ([]*models.FileUpload, error)
	DeleteFile(ctx context.Context, user, fileID string) error
}

// AccountingStorage persists per-user accounting snapshots and the global
// application statistics document.
type AccountingStorage interface {
	UpsertUserAccounting(ctx context.Context, acc *models.UserAccounting) error
	GetUserAccounting(ctx context.Context, user string) (*models.UserAccounting, error)
	UpsertAppStats(ctx context.Context, stats *models.AppStats) error
	GetAppStats(ctx context.Context) (*models.AppStats, error)
}

// StorageManager aggregates the typed stores over one database connection.
type StorageManager interface {
	JobStorage() JobStorage
	FileStorage() FileStorage
	AccountingStorage() AccountingStorage

	// RunGC reclaims value log space; a no-op when nothing can be rewritten.
	RunGC() error

	Close() error
}
