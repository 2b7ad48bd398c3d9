package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/btwld/docling-sdk-sub000/shared/rabbitmq"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []rabbitmq.Message
	err  error
}

func (s *captureSender) PublishWithRetry(_ context.Context, msg rabbitmq.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func decode(t *testing.T, msg rabbitmq.Message) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Body, &env))
	return env
}

func TestPublisher(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)

	tests := []struct {
		name     string
		opts     []Option
		fire     func(p *Publisher)
		wantType string
		wantKey  string
		check    func(t *testing.T, env Envelope)
	}{
		{
			name: "completion",
			fire: func(p *Publisher) {
				p.OnComplete(domain.TaskResult{JobID: "t1", Success: true, FinalStatus: domain.JobStatusSuccess, Duration: 2 * time.Second, Source: domain.SourcePush})
			},
			wantType: TypeCompleted,
			wantKey:  TypeCompleted,
			check: func(t *testing.T, env Envelope) {
				require.NotNil(t, env.Result)
				assert.True(t, env.Result.Success)
				assert.Equal(t, int64(2000), env.Result.DurationMS)
				assert.Equal(t, domain.SourcePush, env.Result.Source)
				assert.Nil(t, env.Error)
			},
		},
		{
			name: "failure with prefix",
			opts: []Option{WithRoutingPrefix("docling.")},
			fire: func(p *Publisher) {
				p.OnError(domain.NewProcessingError(domain.FailureResult("t1", domain.SourcePull, time.Second, domain.ErrTimeout)))
			},
			wantType: TypeFailed,
			wantKey:  "docling." + TypeFailed,
			check: func(t *testing.T, env Envelope) {
				require.NotNil(t, env.Error)
				assert.Equal(t, domain.ErrorKindTimeout, env.Error.Kind)
				require.NotNil(t, env.Result)
				assert.Equal(t, domain.JobStatusFailure, env.Result.FinalStatus)
			},
		},
		{
			name: "progress when enabled",
			opts: []Option{WithProgress(true)},
			fire: func(p *Publisher) {
				p.OnProgress(domain.NewProgressUpdate(domain.Job{ID: "t1", Status: domain.JobStatusStarted}, domain.SourcePull, now))
			},
			wantType: TypeProgress,
			wantKey:  TypeProgress,
			check: func(t *testing.T, env Envelope) {
				require.NotNil(t, env.Progress)
				assert.Equal(t, 50, env.Progress.Percentage)
				assert.Nil(t, env.Result)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &captureSender{}
			p := NewPublisher(sender, append(tt.opts, WithClock(clock))...)

			tt.fire(p)

			require.Len(t, sender.msgs, 1)
			msg := sender.msgs[0]
			assert.Equal(t, tt.wantKey, msg.RoutingKey)
			assert.Equal(t, tt.wantType, msg.Type)
			assert.Equal(t, "application/json", msg.ContentType)

			env := decode(t, msg)
			assert.Equal(t, msg.MessageID, env.ID)
			_, err := uuid.Parse(env.ID)
			assert.NoError(t, err)
			assert.Equal(t, "t1", env.JobID)
			assert.True(t, env.OccurredAt.Equal(now))
			tt.check(t, env)
		})
	}
}

func TestPublisher_ProgressDisabledByDefault(t *testing.T) {
	sender := &captureSender{}
	p := NewPublisher(sender)

	p.OnProgress(domain.ProgressUpdate{JobID: "t1"})
	assert.Empty(t, sender.msgs)
}

func TestPublisher_SendFailureIsSwallowed(t *testing.T) {
	sender := &captureSender{err: errors.New("broker down")}
	p := NewPublisher(sender)

	assert.NotPanics(t, func() {
		p.OnComplete(domain.TaskResult{JobID: "t1", Success: true})
	})
	assert.Len(t, sender.msgs, 1)
}
