package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/btwld/docling-sdk-sub000/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned", slog.Int("worker_count", w.concurrency))
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)

	for {
		select {
		case <-w.stopChan:
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				return
			}

			err := w.processJob(ctx, msg)
			w.settle(workerName, msg, err)
		}
	}
}

// settle acknowledges msg according to the processing outcome
func (w *Worker) settle(workerName string, msg *JobMessage, err error) {
	logger := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.JobID),
	)

	if err == nil {
		if ackErr := msg.delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message", slog.String("error", ackErr.Error()))
		}
		return
	}

	requeue := shouldRequeueJob(err)
	logger.Warn("Job tracking did not settle",
		slog.String("error", err.Error()),
		slog.Bool("requeue", requeue),
	)

	if nackErr := msg.delivery.Nack(false, requeue); nackErr != nil {
		logger.Error("Failed to NACK message", slog.String("error", nackErr.Error()))
	}
}

// shouldRequeueJob requeues transient failures only
func shouldRequeueJob(err error) bool {
	if errors.Is(err, ErrInvalidMessage) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
