package domain

import (
	"fmt"
	"time"
)

// Job is the monitoring layer's view of one remote task
type Job struct {
	ID       string         `json:"job_id"`
	Status   JobStatus      `json:"status"`
	Position *int           `json:"position,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// ProgressUpdate is emitted for every status observation, it is never stored
type ProgressUpdate struct {
	JobID      string    `json:"job_id"`
	Stage      string    `json:"stage"`
	Percentage int       `json:"percentage"`
	Message    string    `json:"message"`
	Position   *int      `json:"position,omitempty"`
	Status     JobStatus `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Source     Source    `json:"source"`
}

// NewProgressUpdate builds the update that describes job as seen by source at ts
func NewProgressUpdate(job Job, source Source, ts time.Time) ProgressUpdate {
	return ProgressUpdate{
		JobID:      job.ID,
		Stage:      string(job.Status),
		Percentage: job.Status.Percentage(),
		Message:    describe(job),
		Position:   job.Position,
		Status:     job.Status,
		Timestamp:  ts,
		Source:     source,
	}
}

func describe(job Job) string {
	switch job.Status {
	case JobStatusPending:
		if job.Position != nil {
			return fmt.Sprintf("Task %s is queued at position %d", job.ID, *job.Position)
		}
		return fmt.Sprintf("Task %s is queued", job.ID)
	case JobStatusStarted:
		return fmt.Sprintf("Task %s is processing", job.ID)
	case JobStatusSuccess:
		return fmt.Sprintf("Task %s completed", job.ID)
	case JobStatusFailure:
		return fmt.Sprintf("Task %s failed", job.ID)
	case JobStatusRevoked:
		return fmt.Sprintf("Task %s was revoked", job.ID)
	default:
		return fmt.Sprintf("Task %s reported status %q", job.ID, job.Status)
	}
}

// TaskResult is the single terminal summary produced per tracked job
type TaskResult struct {
	JobID       string        `json:"job_id"`
	Success     bool          `json:"success"`
	FinalStatus JobStatus     `json:"final_status"`
	Duration    time.Duration `json:"duration"`
	Source      Source        `json:"source,omitempty"`
	Err         error         `json:"-"`
}

// ErrorMessage returns the failure description, empty on success
func (r TaskResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ResultFromStatus builds the terminal result for a job that reported a terminal status
func ResultFromStatus(job Job, source Source, duration time.Duration) TaskResult {
	result := TaskResult{
		JobID:       job.ID,
		Success:     job.Status == JobStatusSuccess,
		FinalStatus: job.Status,
		Duration:    duration,
		Source:      source,
	}
	if !result.Success {
		result.Err = fmt.Errorf("%w: task %s finished with status %s", ErrJobFailed, job.ID, job.Status)
	}
	return result
}

// FailureResult builds a terminal result for a monitoring failure, the final status is always failure
func FailureResult(jobID string, source Source, duration time.Duration, err error) TaskResult {
	return TaskResult{
		JobID:       jobID,
		Success:     false,
		FinalStatus: JobStatusFailure,
		Duration:    duration,
		Source:      source,
		Err:         err,
	}
}
