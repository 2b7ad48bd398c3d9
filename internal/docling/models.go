package docling

import (
	"encoding/json"
	"fmt"

	"github.com/btwld/docling-sdk-sub000/internal/domain"
)

// TaskStatus is the status payload returned by the async endpoints and the status websocket
type TaskStatus struct {
	TaskID       string         `json:"task_id"`
	TaskStatus   string         `json:"task_status"`
	TaskPosition *int           `json:"task_position,omitempty"`
	TaskMeta     map[string]any `json:"task_meta,omitempty"`
}

// Job converts the wire payload, an empty or unknown status is a protocol error
func (s *TaskStatus) Job() (domain.Job, error) {
	if s == nil {
		return domain.Job{}, &domain.ProtocolError{Err: fmt.Errorf("empty task status")}
	}
	if s.TaskStatus == "" {
		return domain.Job{}, &domain.ProtocolError{Err: fmt.Errorf("task %s: missing task_status", s.TaskID)}
	}

	status, err := domain.ParseJobStatus(s.TaskStatus)
	if err != nil {
		return domain.Job{}, &domain.ProtocolError{Raw: s.TaskStatus, Err: err}
	}

	return domain.Job{
		ID:       s.TaskID,
		Status:   status,
		Position: s.TaskPosition,
		Meta:     s.TaskMeta,
	}, nil
}

// HTTPSource is a document fetched by the conversion service
type HTTPSource struct {
	Kind    string            `json:"kind"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ConvertSourceRequest is the body of POST /v1/convert/source/async.
// Options are passed through untouched, the conversion format is owned by the service.
type ConvertSourceRequest struct {
	Sources []HTTPSource    `json:"sources"`
	Options json.RawMessage `json:"options,omitempty"`
}

// NewURLRequest builds a request converting the given URLs
func NewURLRequest(urls ...string) ConvertSourceRequest {
	sources := make([]HTTPSource, len(urls))
	for i, u := range urls {
		sources[i] = HTTPSource{Kind: "http", URL: u}
	}
	return ConvertSourceRequest{Sources: sources}
}
