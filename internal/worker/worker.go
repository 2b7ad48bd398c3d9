// Package worker consumes tracking requests from RabbitMQ and follows each job to resolution.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/btwld/docling-sdk-sub000/internal/progress"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Tracker is the slice of the tracking manager the worker drives
type Tracker interface {
	Track(ctx context.Context, jobID string, cfg progress.Config, listeners ...progress.Listener) (*progress.Orchestrator, error)
	Wait(ctx context.Context, jobID string) (domain.TaskResult, error)
	Stop(ctx context.Context, jobID string) error
	Defaults() progress.Config
}

// DeliverySource yields manual-ack deliveries
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Source      DeliverySource
	Tracker     Tracker
	Concurrency int
	JobTimeout  time.Duration
	WorkerID    string
}

// Worker tracks jobs announced on the queue with a bounded pool
type Worker struct {
	logger      *slog.Logger
	source      DeliverySource
	tracker     Tracker
	concurrency int
	jobTimeout  time.Duration
	workerID    string

	jobsChan chan *JobMessage
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "tracker-" + uuid.NewString()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		logger:      logger.With(slog.String("worker_id", workerID)),
		source:      cfg.Source,
		tracker:     cfg.Tracker,
		concurrency: concurrency,
		jobTimeout:  cfg.JobTimeout,
		workerID:    workerID,
		jobsChan:    make(chan *JobMessage),
		stopChan:    make(chan struct{}),
	}
}

// ID returns the consumer identity of the worker
func (w *Worker) ID() string {
	return w.workerID
}

// Start consumes until ctx is canceled or the delivery channel closes
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop signals the pool and waits for in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
