package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// AggregatorService fans a collection request out across prioritized sources,
// merges and deduplicates the results, and scores each canonical record.
type AggregatorService interface {
	// Collect gathers up to requestedCount canonical records from the named
	// sources (all enabled sources when the list is empty). Per-source
	// failures are returned as data alongside the records; the error return
	// is non-nil only when every source failed.
	Collect(ctx context.Context, requestedCount int, enabledSources []string) ([]models.DramaRecord, []models.SourceError, error)

	// SourceStatus reports per-source availability observed on the last run
	SourceStatus() map[string]bool
}
