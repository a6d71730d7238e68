package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// DramaSource is the capability contract every source adapter implements.
// Adapters acquire their own rate limiter before every network operation and
// hold no shared mutable state beyond that limiter.
type DramaSource interface {
	// Name returns the source identifier used in records and error entries
	Name() string

	// Priority returns the merge precedence rank (lower = tried first)
	Priority() int

	// FetchList returns up to count raw records from the source listing
	FetchList(ctx context.Context, count int) ([]models.RawRecord, error)

	// FetchDetail returns the full record for one source-local id
	FetchDetail(ctx context.Context, sourceID string) (models.RawRecord, error)
}
