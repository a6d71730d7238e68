package aggregator

import (
	"sort"

	"github.com/ternarybob/colligo/internal/models"
)

// corroborationBonus is added per contributing source beyond the first
const corroborationBonus = 0.05

// completenessScore is the fraction of expected fields populated, adjusted
// upward for each corroborating source, capped at 1.0
func completenessScore(record *models.DramaRecord, sourceCount int) float64 {
	score := float64(record.PopulatedFieldCount()) / float64(models.ExpectedFieldCount)
	if sourceCount > 1 {
		score += corroborationBonus * float64(sourceCount-1)
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// rankAndTruncate orders records by completeness descending, first-seen
// order breaking ties, and cuts overshoot past the requested count
func rankAndTruncate(records []models.DramaRecord, requestedCount int) []models.DramaRecord {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CompletenessScore > records[j].CompletenessScore
	})
	if requestedCount > 0 && len(records) > requestedCount {
		records = records[:requestedCount]
	}
	return records
}
