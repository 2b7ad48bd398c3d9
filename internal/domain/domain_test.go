package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusPending, false},
		{JobStatusStarted, false},
		{JobStatusSuccess, true},
		{JobStatusFailure, true},
		{JobStatusRevoked, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.True(t, tt.status.Valid())
		})
	}
}

func TestParseJobStatus(t *testing.T) {
	status, err := ParseJobStatus("started")
	require.NoError(t, err)
	assert.Equal(t, JobStatusStarted, status)

	_, err = ParseJobStatus("SUCCESS")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = ParseJobStatus("")
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestNewProgressUpdate(t *testing.T) {
	position := 3
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	update := NewProgressUpdate(Job{ID: "task-1", Status: JobStatusPending, Position: &position}, SourcePull, ts)

	assert.Equal(t, "task-1", update.JobID)
	assert.Equal(t, "pending", update.Stage)
	assert.Equal(t, 10, update.Percentage)
	assert.Equal(t, SourcePull, update.Source)
	assert.Equal(t, ts, update.Timestamp)
	assert.Contains(t, update.Message, "position 3")
}

func TestResultFromStatus(t *testing.T) {
	ok := ResultFromStatus(Job{ID: "a", Status: JobStatusSuccess}, SourcePush, time.Second)
	assert.True(t, ok.Success)
	assert.NoError(t, ok.Err)
	assert.Empty(t, ok.ErrorMessage())

	revoked := ResultFromStatus(Job{ID: "b", Status: JobStatusRevoked}, SourcePull, time.Second)
	assert.False(t, revoked.Success)
	assert.Equal(t, JobStatusRevoked, revoked.FinalStatus)
	assert.ErrorIs(t, revoked.Err, ErrJobFailed)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"transport", NewTransportError("poll", errors.New("connection refused")), ErrorKindTransport},
		{"wrapped transport", fmt.Errorf("gave up: %w", NewTransportError("poll", context.DeadlineExceeded)), ErrorKindTransport},
		{"timeout", fmt.Errorf("%w: 10 polls", ErrTimeout), ErrorKindTimeout},
		{"protocol", &ProtocolError{Raw: "{}", Err: errors.New("missing status")}, ErrorKindProtocol},
		{"canceled", ErrCanceled, ErrorKindCanceled},
		{"remote", ErrJobFailed, ErrorKindRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}

func TestFailureResultAlwaysCarriesFinalStatus(t *testing.T) {
	result := FailureResult("job", SourcePull, time.Minute, NewTransportError("poll", errors.New("boom")))

	assert.Equal(t, JobStatusFailure, result.FinalStatus)
	assert.False(t, result.Success)

	perr := NewProcessingError(result)
	assert.Equal(t, ErrorKindTransport, perr.Kind)
	assert.ErrorIs(t, perr, ErrTransport)
}

func TestTerminalEvent(t *testing.T) {
	now := time.Now()

	complete := TerminalEvent(TaskResult{JobID: "x", Success: true, FinalStatus: JobStatusSuccess}, now)
	assert.Equal(t, EventComplete, complete.Kind)
	assert.True(t, complete.Terminal())

	failed := TerminalEvent(FailureResult("x", SourcePush, 0, ErrCanceled), now)
	assert.Equal(t, EventError, failed.Kind)
	assert.ErrorIs(t, failed.Err, ErrCanceled)

	assert.False(t, ProgressEvent(ProgressUpdate{JobID: "x"}).Terminal())
}
