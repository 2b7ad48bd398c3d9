package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/jonboulle/clockwork"
)

// DefaultWriteTimeout bounds one save issued by the Recorder
const DefaultWriteTimeout = 5 * time.Second

// ResultSaver persists a record
type ResultSaver interface {
	SaveResult(ctx context.Context, rec *Record) error
}

// Recorder is a tracking listener that stores every terminal result
type Recorder struct {
	saver   ResultSaver
	clock   clockwork.Clock
	logger  *slog.Logger
	timeout time.Duration
}

// NewRecorder creates a Recorder writing through saver
func NewRecorder(saver ResultSaver, clock clockwork.Clock, logger *slog.Logger) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		saver:   saver,
		clock:   clock,
		logger:  logger,
		timeout: DefaultWriteTimeout,
	}
}

func (r *Recorder) OnProgress(domain.ProgressUpdate) {}

func (r *Recorder) OnComplete(result domain.TaskResult) {
	r.save(result)
}

func (r *Recorder) OnError(err *domain.ProcessingError) {
	r.save(err.Result)
}

func (r *Recorder) save(result domain.TaskResult) {
	rec := NewRecord(result, r.clock.Now())

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.saver.SaveResult(ctx, &rec); err != nil {
		r.logger.Error("Failed to record task result",
			slog.String("job_id", rec.JobID),
			slog.Any("error", err),
		)
	}
}
