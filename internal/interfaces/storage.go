package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// DramaStorage persists canonical drama records
type DramaStorage interface {
	// UpsertDramas inserts or updates records keyed by dedup key and returns
	// the number written. CreatedAt is preserved across updates.
	UpsertDramas(ctx context.Context, records []models.DramaRecord) (int, error)

	// GetDrama returns one record by dedup key
	GetDrama(ctx context.Context, key string) (*models.DramaRecord, error)

	// ListDramas returns records ordered by UpdatedAt descending
	ListDramas(ctx context.Context, limit, offset int) ([]models.DramaRecord, error)

	// CountDramas returns the total number of stored records
	CountDramas(ctx context.Context) (int, error)
}

// JobStorage persists job history across restarts
type JobStorage interface {
	// SaveJob inserts or replaces a job by id
	SaveJob(ctx context.Context, job *models.CollectionJob) error

	// GetJob returns one job by id
	GetJob(ctx context.Context, id string) (*models.CollectionJob, error)

	// ListJobs returns up to limit jobs ordered by start time descending
	ListJobs(ctx context.Context, limit int) ([]*models.CollectionJob, error)

	// DeleteJobsBefore removes terminal jobs that ended before cutoff and
	// returns the number deleted
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StorageManager bundles the stores behind one connection lifecycle
type StorageManager interface {
	DramaStorage() DramaStorage
	JobStorage() JobStorage
	Close() error
}
