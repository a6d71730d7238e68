package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// StartOptions are the parameters captured when a job is triggered
type StartOptions struct {
	Trigger          models.JobTrigger
	RequestedCount   int
	ExportEnabled    bool
	ExportFormats    []string
	QualityThreshold float64
}

// OrchestratorService owns the job state machine, the concurrency gate and
// the bounded job history. All job mutation happens behind it; readers only
// ever see snapshots.
type OrchestratorService interface {
	// Start creates a job and runs the pipeline on its own goroutine.
	// Returns ErrAlreadyRunning when the concurrency gate is saturated.
	Start(ctx context.Context, opts StartOptions) (string, error)

	// Current returns a snapshot of the running job, or nil when idle
	Current() *models.CollectionJob

	// Get returns a snapshot of a job by id from memory or the store
	Get(ctx context.Context, jobID string) (*models.CollectionJob, error)

	// History returns up to limit job snapshots, most recent first
	History(limit int) []*models.CollectionJob

	// Stop requests cooperative cancellation of the in-flight job
	Stop() error

	// Stats summarizes the job history for the status endpoint
	Stats() models.JobStats

	// PruneHistory drops terminal jobs older than the retention horizon
	PruneHistory(ctx context.Context) (int, error)

	// Shutdown cancels any running job and waits for the pipeline to exit
	Shutdown(ctx context.Context) error
}
