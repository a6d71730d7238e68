package models

import "time"

// ExpectedFieldCount is the number of fields a fully populated drama record
// carries. Completeness scores are computed against this denominator.
const ExpectedFieldCount = 10

// RawRecord is one item as returned by a single source adapter. Fields are
// optional; zero values mean the source did not supply them. There is no
// cross-source identity at this level.
type RawRecord struct {
	Source   string `json:"source"`
	SourceID string `json:"source_id"`

	Title         string   `json:"title"`
	OriginalTitle string   `json:"original_title,omitempty"`
	Year          int      `json:"year,omitempty"`
	Rating        float64  `json:"rating,omitempty"`
	EpisodeCount  int      `json:"episode_count,omitempty"`
	Genres        []string `json:"genres,omitempty"`
	Directors     []string `json:"directors,omitempty"`
	Cast          []string `json:"cast,omitempty"`
	Synopsis      string   `json:"synopsis,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	CoverURL      string   `json:"cover_url,omitempty"`
	DetailURL     string   `json:"detail_url,omitempty"`
}

// PopulatedFieldCount counts how many expected fields this record carries.
// OriginalTitle and DetailURL are source-local extras and do not count.
func (r *RawRecord) PopulatedFieldCount() int {
	count := 0
	if r.Title != "" {
		count++
	}
	if r.Year != 0 {
		count++
	}
	if r.Rating > 0 {
		count++
	}
	if r.EpisodeCount > 0 {
		count++
	}
	if len(r.Genres) > 0 {
		count++
	}
	if len(r.Directors) > 0 {
		count++
	}
	if len(r.Cast) > 0 {
		count++
	}
	if r.Synopsis != "" {
		count++
	}
	if len(r.Tags) > 0 {
		count++
	}
	if r.CoverURL != "" {
		count++
	}
	return count
}

// DramaRecord is the canonical, deduplicated representation of one drama
// merged across sources. Owned by the aggregator during a run; immutable
// once handed to the job.
type DramaRecord struct {
	// Key is the normalized dedup key (width-folded lower-cased title + year)
	Key     string   `json:"key" badgerhold:"key"`
	Sources []string `json:"sources"` // contributing sources in merge order

	Title         string   `json:"title"`
	OriginalTitle string   `json:"original_title,omitempty"`
	Year          int      `json:"year,omitempty"`
	Rating        float64  `json:"rating,omitempty"`
	EpisodeCount  int      `json:"episode_count,omitempty"`
	Genres        []string `json:"genres,omitempty"`
	Directors     []string `json:"directors,omitempty"`
	Cast          []string `json:"cast,omitempty"`
	Synopsis      string   `json:"synopsis,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	CoverURL      string   `json:"cover_url,omitempty"`
	DetailURL     string   `json:"detail_url,omitempty"`

	CompletenessScore float64 `json:"completeness_score"`

	// Stamped by the validator during the processing stage
	QualityScore  float64  `json:"quality_score,omitempty"`
	QualityIssues []string `json:"quality_issues,omitempty"`
	Flagged       bool     `json:"flagged,omitempty"`

	// Stamped by the store on upsert
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// PopulatedFieldCount mirrors RawRecord.PopulatedFieldCount for merged records
func (d *DramaRecord) PopulatedFieldCount() int {
	count := 0
	if d.Title != "" {
		count++
	}
	if d.Year != 0 {
		count++
	}
	if d.Rating > 0 {
		count++
	}
	if d.EpisodeCount > 0 {
		count++
	}
	if len(d.Genres) > 0 {
		count++
	}
	if len(d.Directors) > 0 {
		count++
	}
	if len(d.Cast) > 0 {
		count++
	}
	if d.Synopsis != "" {
		count++
	}
	if len(d.Tags) > 0 {
		count++
	}
	if d.CoverURL != "" {
		count++
	}
	return count
}

// Clone returns a deep copy of the record
func (d *DramaRecord) Clone() *DramaRecord {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Sources = append([]string(nil), d.Sources...)
	if d.Genres != nil {
		clone.Genres = append([]string(nil), d.Genres...)
	}
	if d.Directors != nil {
		clone.Directors = append([]string(nil), d.Directors...)
	}
	if d.Cast != nil {
		clone.Cast = append([]string(nil), d.Cast...)
	}
	if d.Tags != nil {
		clone.Tags = append([]string(nil), d.Tags...)
	}
	if d.QualityIssues != nil {
		clone.QualityIssues = append([]string(nil), d.QualityIssues...)
	}
	return &clone
}

// HasSource reports whether name already contributed to this record
func (d *DramaRecord) HasSource(name string) bool {
	for _, s := range d.Sources {
		if s == name {
			return true
		}
	}
	return false
}
