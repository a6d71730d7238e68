package interfaces

import "github.com/ternarybob/colligo/internal/models"

// ValidationService scores canonical records for quality. The orchestrator's
// processing stage drops or flags records scoring below the job's threshold.
type ValidationService interface {
	// Validate returns a quality score in [0,1] and the list of issues found
	Validate(record *models.DramaRecord) (float64, []string)
}
