package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/btwld/docling-sdk-sub000/internal/progress"
)

// processJob tracks one job until it resolves. A nil error means the message is done with:
// the job finished, successfully or not. Transport failures and shutdowns come back retryable.
func (w *Worker) processJob(ctx context.Context, msg *JobMessage) error {
	logger := w.logger.With(slog.String("job_id", msg.JobID))
	logger.Info("Tracking job", slog.String("mode", msg.Mode))

	cfg := w.tracker.Defaults()
	if msg.Mode != "" {
		mode, err := progress.ParseMode(msg.Mode)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		cfg.Mode = mode
	}
	if w.jobTimeout > 0 && (cfg.Polling.Timeout <= 0 || cfg.Polling.Timeout > w.jobTimeout) {
		cfg.Polling.Timeout = w.jobTimeout
	}

	if _, err := w.tracker.Track(ctx, msg.JobID, cfg); err != nil {
		if errors.Is(err, domain.ErrCanceled) || ctx.Err() != nil {
			return domain.NewRetryableError(fmt.Errorf("tracker unavailable: %w", err))
		}
		return fmt.Errorf("failed to track job: %w", err)
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	result, err := w.tracker.Wait(jobCtx, msg.JobID)
	if err != nil {
		if ctx.Err() != nil {
			return domain.NewRetryableError(fmt.Errorf("worker stopping: %w", err))
		}
		// the job outlived the worker deadline, stop following it
		if stopErr := w.tracker.Stop(context.WithoutCancel(ctx), msg.JobID); stopErr != nil && !errors.Is(stopErr, domain.ErrNotTracked) {
			logger.Warn("Failed to stop tracking", slog.Any("error", stopErr))
		}
		return fmt.Errorf("%w: job %s not resolved within %s", domain.ErrTimeout, msg.JobID, w.jobTimeout)
	}

	return outcome(result, logger)
}

// outcome maps a resolved job onto the message decision
func outcome(result domain.TaskResult, logger *slog.Logger) error {
	if result.Success {
		logger.Info("Job completed",
			slog.String("source", string(result.Source)),
			slog.Duration("duration", result.Duration),
		)
		return nil
	}

	pe := domain.NewProcessingError(result)
	switch pe.Kind {
	case domain.ErrorKindRemote, domain.ErrorKindProtocol:
		logger.Info("Job finished unsuccessfully",
			slog.String("final_status", string(result.FinalStatus)),
			slog.String("kind", string(pe.Kind)),
		)
		return nil
	case domain.ErrorKindTransport:
		return domain.NewRetryableError(pe)
	default:
		return pe
	}
}
