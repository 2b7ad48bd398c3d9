// Package registry polls job status for every job under pull-based tracking.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/backoff"
	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/jonboulle/clockwork"
)

// DefaultResultRetention is how long a resolved result stays available to WaitForCompletion
const DefaultResultRetention = 5 * time.Minute

// Poller fetches the current status of a job, waiting server-side for up to wait
type Poller interface {
	PollStatus(ctx context.Context, jobID string, wait time.Duration) (domain.Job, error)
}

// Option configures the Registry
type Option func(*Registry)

// WithClock sets the clock driving poll spacing, retries and timeouts
func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets a logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResultRetention sets how long resolved results are kept
func WithResultRetention(d time.Duration) Option {
	return func(r *Registry) {
		r.retention = d
	}
}

// Registry tracks many jobs concurrently, one polling goroutine per job
type Registry struct {
	poller    Poller
	clock     clockwork.Clock
	logger    *slog.Logger
	retention time.Duration

	mu        sync.Mutex
	entries   map[string]*entry
	completed map[string]*entry
	closed    bool
	wg        sync.WaitGroup
}

// New creates a registry polling through poller
func New(poller Poller, opts ...Option) *Registry {
	r := &Registry{
		poller:    poller,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		retention: DefaultResultRetention,
		entries:   make(map[string]*entry),
		completed: make(map[string]*entry),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

type entry struct {
	jobID   string
	opts    Options
	handler domain.EventHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	timer  clockwork.Timer

	mu         sync.Mutex
	resolved   bool
	result     domain.TaskResult
	startedAt  time.Time
	polls      atomic.Int32
	failures   int
	lastStatus domain.JobStatus
	done       chan struct{}
}

// Track starts polling jobID. Tracking a job that is already polled is a no-op.
func (r *Registry) Track(jobID string, opts Options, handler domain.EventHandler) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	if handler == nil {
		handler = func(domain.Event) {}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("%w: registry is shut down", domain.ErrCanceled)
	}
	if _, ok := r.entries[jobID]; ok {
		r.logger.Debug("Job already under polling", slog.String("job_id", jobID))
		return nil
	}
	delete(r.completed, jobID)

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		jobID:     jobID,
		opts:      opts,
		handler:   handler,
		logger:    r.logger.With(slog.String("job_id", jobID), slog.String("source", string(domain.SourcePull))),
		ctx:       ctx,
		cancel:    cancel,
		startedAt: r.clock.Now(),
		done:      make(chan struct{}),
	}
	r.entries[jobID] = e

	if opts.Timeout > 0 {
		e.timer = r.clock.AfterFunc(opts.Timeout, func() {
			err := fmt.Errorf("%w: job %s not finished after %s", domain.ErrTimeout, jobID, opts.Timeout)
			r.fail(e, err)
		})
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.poll(e)
	}()

	e.logger.Info("Polling started",
		slog.Duration("timeout", opts.Timeout),
		slog.Duration("poll_interval", opts.PollInterval),
		slog.Duration("wait", opts.Wait),
		slog.Int("max_polls", opts.MaxPolls),
	)

	return nil
}

// IsTracking reports whether jobID is currently polled
func (r *Registry) IsTracking(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[jobID]
	return ok
}

// Active returns the ids of every job under polling
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// WaitForCompletion blocks until jobID resolves. Every caller receives the same result.
func (r *Registry) WaitForCompletion(ctx context.Context, jobID string) (domain.TaskResult, error) {
	r.mu.Lock()
	e, ok := r.entries[jobID]
	if !ok {
		e, ok = r.completed[jobID]
	}
	r.mu.Unlock()

	if !ok {
		return domain.TaskResult{}, fmt.Errorf("%w: %s", domain.ErrNotTracked, jobID)
	}

	select {
	case <-e.done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.result, nil
	case <-ctx.Done():
		return domain.TaskResult{}, ctx.Err()
	}
}

// Cancel stops polling jobID and emits a cancellation failure. No event follows it.
func (r *Registry) Cancel(jobID string) error {
	r.mu.Lock()
	e, ok := r.entries[jobID]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotTracked, jobID)
	}

	r.fail(e, fmt.Errorf("%w: polling for job %s stopped", domain.ErrCanceled, jobID))
	return nil
}

// Shutdown cancels every job and waits for the polling goroutines to exit
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	pending := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		pending = append(pending, e)
	}
	r.mu.Unlock()

	for _, e := range pending {
		r.fail(e, fmt.Errorf("%w: registry shutting down", domain.ErrCanceled))
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Registry stopped", slog.Int("canceled", len(pending)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registry shutdown: %w", ctx.Err())
	}
}

func (r *Registry) poll(e *entry) {
	policy := e.opts.RetryPolicy()

	for {
		if e.ctx.Err() != nil {
			return
		}

		polls := int(e.polls.Load())
		if e.opts.MaxPolls > 0 && polls >= e.opts.MaxPolls {
			r.fail(e, fmt.Errorf("%w: job %s not finished after %d polls", domain.ErrTimeout, e.jobID, polls))
			return
		}
		polls = int(e.polls.Add(1))

		began := r.clock.Now()
		job, err := r.poller.PollStatus(e.ctx, e.jobID, e.opts.Wait)
		elapsed := r.clock.Since(began)

		// canceled or timed out while the request was in flight
		if e.ctx.Err() != nil {
			return
		}

		if err != nil {
			if !retryable(err) {
				r.fail(e, fmt.Errorf("poll %d: %w", polls, err))
				return
			}

			e.failures++
			if policy.Exhausted(e.failures) {
				r.fail(e, fmt.Errorf("polling failed %d consecutive times: %w", e.failures, err))
				return
			}

			delay := policy.Delay(e.failures)
			e.logger.Warn("Poll failed, retrying",
				slog.Int("failures", e.failures),
				slog.Int("budget", e.opts.PollingRetries),
				slog.Duration("delay", delay),
				slog.Any("error", err),
			)
			if backoff.Sleep(e.ctx, r.clock, delay) != nil {
				return
			}
			continue
		}

		e.failures = 0
		if job.ID == "" {
			job.ID = e.jobID
		}
		if !r.observe(e, job) {
			return
		}

		if backoff.Sleep(e.ctx, r.clock, e.opts.NextDelay(elapsed)) != nil {
			return
		}
	}
}

// retryable reports whether a poll error counts against the transport budget
func retryable(err error) bool {
	return errors.Is(err, domain.ErrTransport) || errors.Is(err, domain.ErrProtocol)
}

// observe emits the update and resolves terminal statuses. It reports whether polling continues.
func (r *Registry) observe(e *entry, job domain.Job) bool {
	e.mu.Lock()
	if e.resolved {
		e.mu.Unlock()
		return false
	}

	now := r.clock.Now()
	e.handler(domain.ProgressEvent(domain.NewProgressUpdate(job, domain.SourcePull, now)))
	if job.Status != e.lastStatus {
		e.lastStatus = job.Status
		e.handler(domain.StatusEvent(e.jobID, domain.SourcePull, job.Status, now))
	}

	if !job.Status.IsTerminal() {
		e.mu.Unlock()
		e.logger.Debug("Job still running", slog.String("status", string(job.Status)), slog.Int("polls", int(e.polls.Load())))
		return true
	}

	r.resolveLocked(e, domain.ResultFromStatus(job, domain.SourcePull, r.clock.Since(e.startedAt)))
	e.mu.Unlock()
	return false
}

// fail resolves e with a monitoring failure unless it already resolved
func (r *Registry) fail(e *entry, err error) {
	e.mu.Lock()
	if e.resolved {
		e.mu.Unlock()
		return
	}
	r.resolveLocked(e, domain.FailureResult(e.jobID, domain.SourcePull, r.clock.Since(e.startedAt), err))
	e.mu.Unlock()
}

// resolveLocked emits the terminal event and releases the job's timer, in-flight request and registry slot.
// e.mu must be held; r.mu is taken after it.
func (r *Registry) resolveLocked(e *entry, result domain.TaskResult) {
	e.resolved = true
	e.result = result
	e.cancel()
	if e.timer != nil {
		e.timer.Stop()
	}

	// the slot is free before the owner hears about the resolution, so it may track the job again
	r.retire(e)
	e.handler(domain.TerminalEvent(result, r.clock.Now()))
	close(e.done)

	attrs := []any{
		slog.String("final_status", string(result.FinalStatus)),
		slog.Duration("duration", result.Duration),
		slog.Int("polls", int(e.polls.Load())),
	}
	if result.Success {
		e.logger.Info("Job resolved over pull", attrs...)
	} else {
		e.logger.Warn("Job failed over pull", append(attrs, slog.String("error", result.ErrorMessage()))...)
	}
}

// retire moves a resolved entry out of the active set
func (r *Registry) retire(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[e.jobID] != e {
		return
	}
	delete(r.entries, e.jobID)

	if r.retention <= 0 {
		return
	}
	r.completed[e.jobID] = e
	r.clock.AfterFunc(r.retention, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.completed[e.jobID] == e {
			delete(r.completed, e.jobID)
		}
	})
}
