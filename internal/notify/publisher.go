// Package notify publishes tracking events to RabbitMQ.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/btwld/docling-sdk-sub000/shared/rabbitmq"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Event types, also used as routing keys under the configured prefix
const (
	TypeProgress  = "task.progress"
	TypeCompleted = "task.completed"
	TypeFailed    = "task.failed"
)

const (
	contentType           = "application/json"
	DefaultPublishTimeout = 10 * time.Second
)

// Sender is the slice of the RabbitMQ client the publisher needs
type Sender interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
}

// ResultBody is the wire form of a terminal result
type ResultBody struct {
	Success     bool             `json:"success"`
	FinalStatus domain.JobStatus `json:"final_status"`
	DurationMS  int64            `json:"duration_ms"`
	Source      domain.Source    `json:"source,omitempty"`
}

// ErrorBody is the wire form of a tracking failure
type ErrorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// Envelope is the published message
type Envelope struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	JobID      string                 `json:"job_id"`
	Progress   *domain.ProgressUpdate `json:"progress,omitempty"`
	Result     *ResultBody            `json:"result,omitempty"`
	Error      *ErrorBody             `json:"error,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Option configures a Publisher
type Option func(*Publisher)

// WithProgress also publishes every progress update
func WithProgress(enabled bool) Option {
	return func(p *Publisher) {
		p.progress = enabled
	}
}

// WithRoutingPrefix prepends prefix to every routing key
func WithRoutingPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.prefix = prefix
	}
}

// WithClock sets the clock stamping envelopes
func WithClock(clock clockwork.Clock) Option {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger sets a logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Publisher is a tracking listener that forwards events to a message broker
type Publisher struct {
	sender   Sender
	clock    clockwork.Clock
	logger   *slog.Logger
	progress bool
	prefix   string
	timeout  time.Duration
}

// NewPublisher creates a publisher. Only terminal events are sent unless WithProgress is set.
func NewPublisher(sender Sender, opts ...Option) *Publisher {
	p := &Publisher{
		sender:  sender,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		timeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) OnProgress(update domain.ProgressUpdate) {
	if !p.progress {
		return
	}
	env := p.envelope(TypeProgress, update.JobID)
	env.Progress = &update
	p.send(env)
}

func (p *Publisher) OnComplete(result domain.TaskResult) {
	env := p.envelope(TypeCompleted, result.JobID)
	env.Result = resultBody(result)
	p.send(env)
}

func (p *Publisher) OnError(err *domain.ProcessingError) {
	env := p.envelope(TypeFailed, err.JobID)
	env.Result = resultBody(err.Result)
	env.Error = &ErrorBody{Kind: err.Kind, Message: err.Err.Error()}
	p.send(env)
}

func (p *Publisher) envelope(kind, jobID string) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Type:       kind,
		JobID:      jobID,
		OccurredAt: p.clock.Now().UTC(),
	}
}

func resultBody(result domain.TaskResult) *ResultBody {
	return &ResultBody{
		Success:     result.Success,
		FinalStatus: result.FinalStatus,
		DurationMS:  result.Duration.Milliseconds(),
		Source:      result.Source,
	}
}

// Encode renders env as a broker message
func (p *Publisher) Encode(env Envelope) (rabbitmq.Message, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return rabbitmq.Message{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return rabbitmq.Message{
		RoutingKey:  p.prefix + env.Type,
		ContentType: contentType,
		MessageID:   env.ID,
		Type:        env.Type,
		Body:        body,
	}, nil
}

func (p *Publisher) send(env Envelope) {
	msg, err := p.Encode(env)
	if err != nil {
		p.logger.Error("Failed to encode event", slog.String("job_id", env.JobID), slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.sender.PublishWithRetry(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event",
			slog.String("job_id", env.JobID),
			slog.String("type", env.Type),
			slog.Any("error", err),
		)
	}
}
