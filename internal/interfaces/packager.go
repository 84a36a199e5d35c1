package interfaces

import (
	"context"

	"github.com/ternarybob/caelum/internal/models"
)

// Packager archives a terminal job's directory and records the packaging
// fields on the job record. Packaging is idempotent; a job packaged once is
// never re-archived.
type Packager interface {
	Package(ctx context.Context, job *models.Job) error
}
