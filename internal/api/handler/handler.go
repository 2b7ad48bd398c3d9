package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/docling"
	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/btwld/docling-sdk-sub000/internal/progress"
	"github.com/btwld/docling-sdk-sub000/internal/storage"
)

// DefaultMaxWait caps the wait endpoint
const DefaultMaxWait = 10 * time.Minute

// TaskTracker is the tracking surface the handlers use
type TaskTracker interface {
	Track(ctx context.Context, jobID string, cfg progress.Config, listeners ...progress.Listener) (*progress.Orchestrator, error)
	Stop(ctx context.Context, jobID string) error
	Wait(ctx context.Context, jobID string) (domain.TaskResult, error)
	Snapshot(jobID string) (progress.Snapshot, error)
	Defaults() progress.Config
}

// Converter submits conversions and fetches their documents
type Converter interface {
	SubmitSource(ctx context.Context, req docling.ConvertSourceRequest) (*docling.TaskStatus, error)
	Result(ctx context.Context, taskID string) (json.RawMessage, error)
}

// ResultStore reads the result history
type ResultStore interface {
	GetResult(ctx context.Context, jobID string) (*storage.Record, error)
	ListResults(ctx context.Context, filter storage.Filter) (storage.Page, error)
}

// HealthChecker reports the health of one dependency
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Tracker   TaskTracker
	Converter Converter
	Results   ResultStore // nil when history is disabled
	Checks    map[string]HealthChecker
	MaxWait   time.Duration
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	logger    *slog.Logger
	tracker   TaskTracker
	converter Converter
	results   ResultStore
	maxWait   time.Duration
}

// NewTaskHandler creates a new TaskHandler instance
func NewTaskHandler(deps *Dependencies) *TaskHandler {
	maxWait := deps.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &TaskHandler{
		logger:    deps.Logger,
		tracker:   deps.Tracker,
		converter: deps.Converter,
		results:   deps.Results,
		maxWait:   maxWait,
	}
}
