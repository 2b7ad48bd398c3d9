package storage

import (
	"errors"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/domain"
)

// ErrResultNotFound is returned when no result is stored for a job
var ErrResultNotFound = errors.New("result not found")

// Record is one row of task_results
type Record struct {
	JobID        string    `db:"job_id"`
	Success      bool      `db:"success"`
	FinalStatus  string    `db:"final_status"`
	ErrorKind    string    `db:"error_kind"`
	ErrorMessage string    `db:"error_message"`
	Source       string    `db:"source"`
	DurationMS   int64     `db:"duration_ms"`
	StartedAt    time.Time `db:"started_at"`
	CompletedAt  time.Time `db:"completed_at"`
}

// NewRecord converts a terminal result observed at completedAt
func NewRecord(result domain.TaskResult, completedAt time.Time) Record {
	rec := Record{
		JobID:       result.JobID,
		Success:     result.Success,
		FinalStatus: string(result.FinalStatus),
		Source:      string(result.Source),
		DurationMS:  result.Duration.Milliseconds(),
		StartedAt:   completedAt.Add(-result.Duration).UTC(),
		CompletedAt: completedAt.UTC(),
	}
	if !result.Success {
		err := result.Err
		if err == nil {
			err = domain.NewProcessingError(result).Err
		}
		rec.ErrorKind = string(domain.KindOf(err))
		rec.ErrorMessage = err.Error()
	}
	return rec
}

// Duration returns the stored tracking time
func (r Record) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}
