package progress

import (
	"github.com/btwld/docling-sdk-sub000/internal/domain"
)

// Listener receives the unified event stream of one job. Calls are made from a single goroutine, in order.
// A listener must not call StopTracking on the orchestrator that is calling it.
type Listener interface {
	OnProgress(update domain.ProgressUpdate)
	OnComplete(result domain.TaskResult)
	OnError(err *domain.ProcessingError)
}

// StatusListener is implemented by listeners that also want status transitions
type StatusListener interface {
	OnStatus(jobID string, status domain.JobStatus, source domain.Source)
}

// ListenerFuncs adapts plain functions to Listener, nil fields are skipped
type ListenerFuncs struct {
	Progress func(update domain.ProgressUpdate)
	Status   func(jobID string, status domain.JobStatus, source domain.Source)
	Complete func(result domain.TaskResult)
	Error    func(err *domain.ProcessingError)
}

func (f ListenerFuncs) OnProgress(update domain.ProgressUpdate) {
	if f.Progress != nil {
		f.Progress(update)
	}
}

func (f ListenerFuncs) OnStatus(jobID string, status domain.JobStatus, source domain.Source) {
	if f.Status != nil {
		f.Status(jobID, status, source)
	}
}

func (f ListenerFuncs) OnComplete(result domain.TaskResult) {
	if f.Complete != nil {
		f.Complete(result)
	}
}

func (f ListenerFuncs) OnError(err *domain.ProcessingError) {
	if f.Error != nil {
		f.Error(err)
	}
}

type subscription struct {
	id       string
	listener Listener
}
