package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// ExportService writes canonical records to one file per requested format
// plus a manifest with checksums.
type ExportService interface {
	// Export writes records in each format and returns one descriptor per
	// file written. A failure in any format fails the whole batch.
	Export(ctx context.Context, records []models.DramaRecord, formats []string, opts models.ExportOptions) ([]models.ExportResult, error)
}
