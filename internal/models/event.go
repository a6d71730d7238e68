package models

import "time"

// EventType identifies a job lifecycle event
type EventType string

const (
	EventJobStarted      EventType = "job_started"
	EventJobStateChanged EventType = "job_state_changed"
	EventJobProgress     EventType = "job_progress"
	EventJobCompleted    EventType = "job_completed"
	EventJobFailed       EventType = "job_failed"
	EventMaintenanceRun  EventType = "maintenance_run"
)

// JobEvent is published on every job state transition and progress tick.
// Consumed by the WebSocket handler for dashboard streaming.
type JobEvent struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id,omitempty"`
	State     JobState  `json:"state,omitempty"`
	Message   string    `json:"message,omitempty"`
	Collected int       `json:"collected,omitempty"`
	Processed int       `json:"processed,omitempty"`
	Stored    int       `json:"stored,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
