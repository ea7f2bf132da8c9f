package jobs

import (
	"errors"
	"time"
)

// Job statuses
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// Job is one asynchronous composition.
type Job struct {
	ID        string `json:"id"`
	UserID    string `json:"userId,omitempty"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	// Settings is the raw settings document as submitted.
	Settings string `json:"-"`
	// Inputs maps upload fields to storage keys, in upload order.
	Inputs      map[string][]string `json:"-"`
	OutputPath  string              `json:"-"`
	Error       *JobError           `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
}

// JobError represents a job error
type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Terminal reports whether the job will not run again.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || (j.Status == StatusFailed && (j.Error == nil || !j.Error.Retryable))
}
