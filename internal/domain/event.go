package domain

import "time"

// EventKind enumerates the vocabulary shared by both monitoring channels
type EventKind int

const (
	// EventProgress carries a ProgressUpdate
	EventProgress EventKind = iota
	// EventStatus is emitted when the observed status changes
	EventStatus
	// EventComplete carries a successful TaskResult, it is terminal
	EventComplete
	// EventError carries a failed TaskResult, it is terminal
	EventError
	// EventDiagnostic reports swallowed problems such as unknown messages
	EventDiagnostic
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventStatus:
		return "status"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	case EventDiagnostic:
		return "diagnostic"
	default:
		return "unknown"
	}
}

// Event is what a channel reports to its owner
type Event struct {
	Kind     EventKind
	JobID    string
	Source   Source
	Status   JobStatus
	Progress *ProgressUpdate
	Result   *TaskResult
	Err      error
	Time     time.Time
}

// Terminal reports whether the event resolves the job
func (e Event) Terminal() bool {
	return e.Kind == EventComplete || e.Kind == EventError
}

// EventHandler receives events for a single job
type EventHandler func(Event)

// ProgressEvent wraps an update
func ProgressEvent(update ProgressUpdate) Event {
	return Event{
		Kind:     EventProgress,
		JobID:    update.JobID,
		Source:   update.Source,
		Status:   update.Status,
		Progress: &update,
		Time:     update.Timestamp,
	}
}

// StatusEvent reports a status transition
func StatusEvent(jobID string, source Source, status JobStatus, ts time.Time) Event {
	return Event{Kind: EventStatus, JobID: jobID, Source: source, Status: status, Time: ts}
}

// TerminalEvent wraps a result into a complete or error event
func TerminalEvent(result TaskResult, ts time.Time) Event {
	kind := EventComplete
	if !result.Success {
		kind = EventError
	}
	return Event{
		Kind:   kind,
		JobID:  result.JobID,
		Source: result.Source,
		Status: result.FinalStatus,
		Result: &result,
		Err:    result.Err,
		Time:   ts,
	}
}

// DiagnosticEvent reports a swallowed error
func DiagnosticEvent(jobID string, source Source, err error, ts time.Time) Event {
	return Event{Kind: EventDiagnostic, JobID: jobID, Source: source, Err: err, Time: ts}
}
