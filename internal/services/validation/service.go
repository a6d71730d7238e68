// Package validation scores canonical records for quality. Structural
// constraints are enforced with go-playground/validator tags; completeness
// checks deduct from the score per missing dimension.
package validation

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Structural violations weigh heavier than missing optional data
const (
	penaltyStructural   = 0.30
	penaltyMissingYear  = 0.15
	penaltyFutureYear   = 0.15
	penaltyNoRating     = 0.10
	penaltyNoEpisodes   = 0.10
	penaltyNoSynopsis   = 0.15
	penaltyThinSynopsis = 0.05
	penaltyNoGenres     = 0.05
	penaltyNoDirectors  = 0.05
	penaltyNoCast       = 0.05
	penaltyNoCover      = 0.05
)

const minSynopsisRunes = 10

// recordSchema carries the validator tags for structural checks
type recordSchema struct {
	Title        string   `validate:"required"`
	Year         int      `validate:"omitempty,gte=1950,lte=2100"`
	Rating       float64  `validate:"gte=0,lte=10"`
	EpisodeCount int      `validate:"gte=0,lte=1000"`
	CoverURL     string   `validate:"omitempty,url"`
	DetailURL    string   `validate:"omitempty,url"`
	Sources      []string `validate:"required,min=1"`
}

// structuralIssues maps schema fields to reportable messages
var structuralIssues = map[string]string{
	"Title":        "title is missing",
	"Year":         "release year out of plausible range",
	"Rating":       "rating outside 0-10",
	"EpisodeCount": "episode count outside 0-1000",
	"CoverURL":     "cover URL is not a valid URL",
	"DetailURL":    "detail URL is not a valid URL",
	"Sources":      "record has no contributing sources",
}

// Service implements ValidationService
type Service struct {
	validate *validator.Validate
	logger   arbor.ILogger
}

var _ interfaces.ValidationService = (*Service)(nil)

// NewService creates the quality validator
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		validate: validator.New(),
		logger:   logger,
	}
}

// Validate returns a quality score in [0,1] and the issues found. The score
// starts at 1.0 and each violation deducts its penalty.
func (s *Service) Validate(record *models.DramaRecord) (float64, []string) {
	score := 1.0
	var issues []string

	schema := recordSchema{
		Title:        record.Title,
		Year:         record.Year,
		Rating:       record.Rating,
		EpisodeCount: record.EpisodeCount,
		CoverURL:     record.CoverURL,
		DetailURL:    record.DetailURL,
		Sources:      record.Sources,
	}
	if err := s.validate.Struct(&schema); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			for _, fieldErr := range validationErrs {
				message, known := structuralIssues[fieldErr.Field()]
				if !known {
					message = fmt.Sprintf("%s failed %s validation", fieldErr.Field(), fieldErr.Tag())
				}
				issues = append(issues, message)
				score -= penaltyStructural
			}
		} else {
			issues = append(issues, "record failed structural validation")
			score -= penaltyStructural
		}
	}

	// Completeness checks
	if record.Year == 0 {
		issues = append(issues, "release year is missing")
		score -= penaltyMissingYear
	} else if record.Year > time.Now().Year()+1 {
		issues = append(issues, "release year is in the future")
		score -= penaltyFutureYear
	}
	if record.Rating == 0 {
		issues = append(issues, "rating is missing")
		score -= penaltyNoRating
	}
	if record.EpisodeCount == 0 {
		issues = append(issues, "episode count is missing")
		score -= penaltyNoEpisodes
	}
	switch {
	case record.Synopsis == "":
		issues = append(issues, "synopsis is missing")
		score -= penaltyNoSynopsis
	case len([]rune(record.Synopsis)) < minSynopsisRunes:
		issues = append(issues, "synopsis is too short")
		score -= penaltyThinSynopsis
	}
	if len(record.Genres) == 0 {
		issues = append(issues, "genres are missing")
		score -= penaltyNoGenres
	}
	if len(record.Directors) == 0 {
		issues = append(issues, "directors are missing")
		score -= penaltyNoDirectors
	}
	if len(record.Cast) == 0 {
		issues = append(issues, "cast is missing")
		score -= penaltyNoCast
	}
	if record.CoverURL == "" {
		issues = append(issues, "cover URL is missing")
		score -= penaltyNoCover
	}

	if score < 0 {
		score = 0
	}

	if len(issues) > 0 {
		s.logger.Debug().
			Str("key", record.Key).
			Float64("quality_score", score).
			Int("issues", len(issues)).
			Msg("Record validated with issues")
	}

	return score, issues
}
