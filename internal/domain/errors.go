package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport is matched by every network or connection failure
	ErrTransport = errors.New("transport error")

	// ErrTimeout is returned when a job exceeds its deadline or poll budget
	ErrTimeout = errors.New("deadline exceeded")

	// ErrProtocol is returned for malformed or unexpected messages
	ErrProtocol = errors.New("protocol error")

	// ErrCanceled is returned when the caller stops tracking a job
	ErrCanceled = errors.New("tracking canceled")

	// ErrJobFailed is returned when the remote job itself ends in failure or revocation
	ErrJobFailed = errors.New("remote job failed")

	// ErrNotTracked is returned when a job is not (or no longer) under tracking
	ErrNotTracked = errors.New("job not tracked")

	// ErrAlreadyTracking is returned when a tracker is reused for a different job
	ErrAlreadyTracking = errors.New("already tracking another job")
)

// TransportError wraps network failures that may be retried up to a budget
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) match every TransportError
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// NewTransportError creates a new transport error
func NewTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// ProtocolError wraps a message that could not be understood
type ProtocolError struct {
	Raw string
	Err error
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// ErrorKind classifies terminal failures for callers
type ErrorKind string

const (
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindTimeout   ErrorKind = "timeout"
	ErrorKindProtocol  ErrorKind = "protocol"
	ErrorKindCanceled  ErrorKind = "canceled"
	ErrorKindRemote    ErrorKind = "remote"
)

// KindOf reports the kind of a terminal error. Unknown errors are treated as remote failures.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrCanceled):
		return ErrorKindCanceled
	case errors.Is(err, ErrTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrProtocol):
		return ErrorKindProtocol
	case errors.Is(err, ErrTransport):
		return ErrorKindTransport
	default:
		return ErrorKindRemote
	}
}

// ProcessingError is delivered to listeners when a tracked job does not succeed
type ProcessingError struct {
	JobID  string
	Kind   ErrorKind
	Result TaskResult
	Err    error
}

// NewProcessingError derives a ProcessingError from a failed result
func NewProcessingError(result TaskResult) *ProcessingError {
	err := result.Err
	if err == nil {
		err = fmt.Errorf("%w: task %s finished with status %s", ErrJobFailed, result.JobID, result.FinalStatus)
	}
	return &ProcessingError{
		JobID:  result.JobID,
		Kind:   KindOf(err),
		Result: result,
		Err:    err,
	}
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("task %s %s failure: %v", e.JobID, e.Kind, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
