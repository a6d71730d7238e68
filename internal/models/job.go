package models

import (
	"encoding/json"
	"time"
)

// JobState represents the lifecycle state of a collection job
type JobState string

const (
	JobStateIdle       JobState = "idle"
	JobStateCollecting JobState = "collecting"
	JobStateProcessing JobState = "processing"
	JobStateStoring    JobState = "storing"
	JobStateExporting  JobState = "exporting"
	JobStateCompleted  JobState = "completed"
	JobStateError      JobState = "error"
)

// JobTrigger identifies what started a job
type JobTrigger string

const (
	TriggerManual    JobTrigger = "manual"
	TriggerScheduled JobTrigger = "scheduled"
)

// SourceError records a single failure attributed to a source or pipeline stage.
// Errors are data, not control flow: the aggregator and orchestrator accumulate
// them so partial success stays representable.
type SourceError struct {
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// JobResult captures the outcome of a completed pipeline run
type JobResult struct {
	SourceCounts map[string]int `json:"source_counts"` // raw records contributed per source
	ExportFiles  []ExportResult `json:"export_files,omitempty"`
	DroppedCount int            `json:"dropped_count"` // records dropped below the quality threshold
	Duration     time.Duration  `json:"duration"`
}

// CollectionJob is the unit of orchestration. It is mutated only by the
// orchestrator; everyone else receives Clone() snapshots.
type CollectionJob struct {
	ID      string     `json:"id"` // job_{uuid}
	State   JobState   `json:"state"`
	Trigger JobTrigger `json:"trigger"`

	// Parameters captured at start
	RequestedCount   int      `json:"requested_count"`
	ExportEnabled    bool     `json:"export_enabled"`
	ExportFormats    []string `json:"export_formats,omitempty"`
	QualityThreshold float64  `json:"quality_threshold"`

	// EndTime stays zero while the job is running and is set exactly when the
	// job reaches a terminal state.
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`

	// Counters are monotonically non-decreasing while the job runs
	TotalCollected int `json:"total_collected"`
	TotalProcessed int `json:"total_processed"`
	TotalStored    int `json:"total_stored"`

	// Errors is append-only, ordered by occurrence
	Errors []SourceError `json:"errors,omitempty"`

	Result *JobResult `json:"result,omitempty"`
}

// IsTerminal reports whether the job has finished (successfully or not)
func (j *CollectionJob) IsTerminal() bool {
	return j.State == JobStateCompleted || j.State == JobStateError
}

// Duration returns elapsed time, using now for running jobs
func (j *CollectionJob) Duration() time.Duration {
	if j.StartTime.IsZero() {
		return 0
	}
	if j.EndTime.IsZero() {
		return time.Since(j.StartTime)
	}
	return j.EndTime.Sub(j.StartTime)
}

// AppendError records a failure against the job with the current timestamp
func (j *CollectionJob) AppendError(source, message string) {
	j.Errors = append(j.Errors, SourceError{
		Source:    source,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// Clone returns a deep copy safe to hand to readers outside the orchestrator
func (j *CollectionJob) Clone() *CollectionJob {
	if j == nil {
		return nil
	}
	clone := *j
	if j.ExportFormats != nil {
		clone.ExportFormats = append([]string(nil), j.ExportFormats...)
	}
	if j.Errors != nil {
		clone.Errors = append([]SourceError(nil), j.Errors...)
	}
	if j.Result != nil {
		result := *j.Result
		if j.Result.SourceCounts != nil {
			result.SourceCounts = make(map[string]int, len(j.Result.SourceCounts))
			for k, v := range j.Result.SourceCounts {
				result.SourceCounts[k] = v
			}
		}
		if j.Result.ExportFiles != nil {
			result.ExportFiles = append([]ExportResult(nil), j.Result.ExportFiles...)
		}
		clone.Result = &result
	}
	return &clone
}

// ToJSON serializes the job for API responses and persistence diagnostics
func (j *CollectionJob) ToJSON() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// JobStats summarizes history for the status endpoint
type JobStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
}
