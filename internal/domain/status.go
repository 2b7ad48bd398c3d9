package domain

import "fmt"

// JobStatus is the lifecycle state of a remote conversion job
type JobStatus string

// Job status constants
const (
	JobStatusPending JobStatus = "pending"
	JobStatusStarted JobStatus = "started"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailure JobStatus = "failure"
	JobStatusRevoked JobStatus = "revoked"
)

// IsTerminal reports whether no further transitions can follow s
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailure || s == JobStatusRevoked
}

// Valid reports whether s is one of the known statuses
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusStarted, JobStatusSuccess, JobStatusFailure, JobStatusRevoked:
		return true
	}
	return false
}

// Percentage maps a status onto the coarse progress scale used by ProgressUpdate
func (s JobStatus) Percentage() int {
	switch s {
	case JobStatusPending:
		return 10
	case JobStatusStarted:
		return 50
	case JobStatusSuccess, JobStatusFailure, JobStatusRevoked:
		return 100
	default:
		return 0
	}
}

func (s JobStatus) String() string {
	return string(s)
}

// ParseJobStatus converts a wire value into a JobStatus
func ParseJobStatus(raw string) (JobStatus, error) {
	s := JobStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown job status %q", ErrProtocol, raw)
	}
	return s, nil
}

// Source identifies which channel produced an event
type Source string

const (
	SourcePush Source = "push"
	SourcePull Source = "pull"
)
