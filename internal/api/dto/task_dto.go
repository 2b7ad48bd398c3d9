package dto

import (
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/btwld/docling-sdk-sub000/internal/progress"
	"github.com/btwld/docling-sdk-sub000/internal/storage"
)

// TrackOptions overrides the tracking defaults for one request
type TrackOptions struct {
	Mode           string `json:"mode"`
	ConnectTimeout string `json:"connect_timeout"`
	Timeout        string `json:"timeout"`
}

// ConvertRequest submits URLs for asynchronous conversion and starts tracking the task
type ConvertRequest struct {
	URLs    []string     `json:"urls" binding:"required,min=1,dive,url"`
	Options TrackOptions `json:"tracking"`
}

// TrackRequest starts tracking an existing task
type TrackRequest struct {
	TrackOptions
}

// ListResultsRequest filters the result history
type ListResultsRequest struct {
	Success     *bool  `form:"success"`
	FinalStatus string `form:"final_status"`
	Source      string `form:"source"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

// ErrorDTO describes a failed task
type ErrorDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ResultDTO is the terminal outcome of a task
type ResultDTO struct {
	JobID       string    `json:"job_id"`
	Success     bool      `json:"success"`
	FinalStatus string    `json:"final_status"`
	DurationMS  int64     `json:"duration_ms"`
	Source      string    `json:"source,omitempty"`
	Error       *ErrorDTO `json:"error,omitempty"`
	CompletedAt string    `json:"completed_at,omitempty"`
}

// TaskDTO is the live view of a tracked task
type TaskDTO struct {
	JobID        string                 `json:"job_id"`
	Mode         string                 `json:"mode"`
	Resolved     bool                   `json:"resolved"`
	PushActive   bool                   `json:"push_active"`
	PullActive   bool                   `json:"pull_active"`
	Status       string                 `json:"status,omitempty"`
	LastProgress *domain.ProgressUpdate `json:"last_progress,omitempty"`
	Result       *ResultDTO             `json:"result,omitempty"`
	StartedAt    string                 `json:"started_at"`
}

// ListResultsResponse is one page of history
type ListResultsResponse struct {
	Results    []ResultDTO `json:"results"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// FromResult converts a terminal result
func FromResult(r domain.TaskResult) *ResultDTO {
	out := &ResultDTO{
		JobID:       r.JobID,
		Success:     r.Success,
		FinalStatus: string(r.FinalStatus),
		DurationMS:  r.Duration.Milliseconds(),
		Source:      string(r.Source),
	}
	if !r.Success {
		pe := domain.NewProcessingError(r)
		out.Error = &ErrorDTO{Kind: string(pe.Kind), Message: pe.Err.Error()}
	}
	return out
}

// FromSnapshot converts a live tracker view
func FromSnapshot(s progress.Snapshot) TaskDTO {
	out := TaskDTO{
		JobID:        s.JobID,
		Mode:         string(s.Mode),
		Resolved:     s.Resolved,
		PushActive:   s.PushActive,
		PullActive:   s.PullActive,
		Status:       string(s.LastStatus),
		LastProgress: s.LastProgress,
		StartedAt:    s.StartedAt.Format(time.RFC3339),
	}
	if s.Result != nil {
		out.Result = FromResult(*s.Result)
	}
	return out
}

// FromRecord converts a stored result
func FromRecord(rec storage.Record) ResultDTO {
	out := ResultDTO{
		JobID:       rec.JobID,
		Success:     rec.Success,
		FinalStatus: rec.FinalStatus,
		DurationMS:  rec.DurationMS,
		Source:      rec.Source,
		CompletedAt: rec.CompletedAt.Format(time.RFC3339),
	}
	if !rec.Success {
		out.Error = &ErrorDTO{Kind: rec.ErrorKind, Message: rec.ErrorMessage}
	}
	return out
}
