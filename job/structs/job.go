// Package structs defines the job queue domain models.
package structs

import "time"

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
	// StatusRetrying is a transient label used while a failed attempt is
	// being handed back to the queue. It is never persisted; the retry
	// transition lands on StatusPending.
	StatusRetrying JobStatus = "RETRYING"
)

// AllStatuses lists every persistable status.
var AllStatuses = []JobStatus{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// ParseStatus converts a string to a JobStatus.
func ParseStatus(s string) (JobStatus, bool) {
	switch JobStatus(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetrying:
		return JobStatus(s), true
	}
	return "", false
}

// Description returns a human readable explanation of the status.
func (s JobStatus) Description() string {
	switch s {
	case StatusPending:
		return "Job is waiting to be processed"
	case StatusProcessing:
		return "Job is currently being processed"
	case StatusCompleted:
		return "Job has been completed successfully"
	case StatusFailed:
		return "Job has failed"
	case StatusRetrying:
		return "Job is being retried after failure"
	}
	return "Unknown status"
}

// IsTerminal reports whether no further transitions are permitted from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the unit of work tracked through the state machine.
//
// ID is the internal storage key; JobID is the externally visible identifier
// and is immutable for the lifetime of the record. Status is only ever changed
// through the repository's conditional transitions.
type Job struct {
	ID           int64          `json:"id"`
	JobID        string         `json:"job_id"`
	JobType      string         `json:"job_type"`
	Payload      map[string]any `json:"payload"`
	Status       JobStatus      `json:"status"`
	Priority     int            `json:"priority"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	WorkerID     string         `json:"worker_id,omitempty"`
}

// CanRetry reports whether the job has retry budget left.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// JobResult records the outcome of a single execution attempt. Results are
// append-only; retries accumulate one row each.
type JobResult struct {
	ID              int64          `json:"id"`
	JobID           int64          `json:"job_id"`
	Result          map[string]any `json:"result,omitempty"`
	Success         bool           `json:"success"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	CreatedAt       time.Time      `json:"created_at"`
}

// JobStats is a point-in-time aggregate of jobs per status.
type JobStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// Total returns the number of jobs in any status.
func (s JobStats) Total() int64 {
	return s.Pending + s.Processing + s.Completed + s.Failed
}
