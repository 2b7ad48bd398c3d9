// Package progress decides, per job, whether the websocket or polling drives monitoring and
// republishes a single ordered event stream with exactly one terminal resolution.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/btwld/docling-sdk-sub000/internal/registry"
	"github.com/btwld/docling-sdk-sub000/internal/wschannel"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// PullTracker is the polling side, usually a *registry.Registry shared by all jobs
type PullTracker interface {
	Track(jobID string, opts registry.Options, handler domain.EventHandler) error
	Cancel(jobID string) error
}

// PushChannel is the websocket side, usually a *wschannel.Channel
type PushChannel interface {
	Connect(ctx context.Context) error
	Disconnect()
	Done() <-chan struct{}
}

// ChannelFactory creates the push channel for a job
type ChannelFactory func(jobID string, opts wschannel.Options, emit domain.EventHandler) PushChannel

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock sets the clock used for the connect timeout and the silence window
func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets a logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Snapshot is a point-in-time view of a tracked job
type Snapshot struct {
	JobID        string                 `json:"job_id"`
	Mode         Mode                   `json:"mode"`
	Resolved     bool                   `json:"resolved"`
	PushActive   bool                   `json:"push_active"`
	PullActive   bool                   `json:"pull_active"`
	LastStatus   domain.JobStatus       `json:"last_status,omitempty"`
	LastProgress *domain.ProgressUpdate `json:"last_progress,omitempty"`
	Result       *domain.TaskResult     `json:"result,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
}

// Orchestrator tracks a single job
type Orchestrator struct {
	cfg        Config
	pull       PullTracker
	newChannel ChannelFactory
	clock      clockwork.Clock
	logger     *slog.Logger

	// ctx is canceled on resolution or stop and aborts a pending push connect
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	jobID         string
	started       bool
	stopped       bool
	resolved      bool
	push          PushChannel
	pushAbandoned bool
	pullActive    bool
	silence       clockwork.Timer
	startedAt     time.Time
	lastStatus    domain.JobStatus
	lastProgress  *domain.ProgressUpdate
	result        domain.TaskResult
	queue         []domain.Event
	subs          []subscription

	// terminal is set once the dispatcher picked up the resolution. Listeners subscribing
	// after that wait in late until it is replayed to them.
	terminal *domain.Event
	late     []subscription
	replayed bool

	// pulling counts startPull calls whose registry Track has not returned yet
	pulling     sync.WaitGroup
	releaseOnce sync.Once

	wake         chan struct{}
	delivered    chan struct{}
	dispatchDone chan struct{}
	released     chan struct{}
	finished     chan struct{}
}

// New creates an orchestrator for one job. newChannel may be nil in pull mode.
func New(pull PullTracker, newChannel ChannelFactory, cfg Config, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		cfg:          cfg,
		pull:         pull,
		newChannel:   newChannel,
		clock:        clockwork.NewRealClock(),
		logger:       slog.Default(),
		ctx:          ctx,
		cancel:       cancel,
		wake:         make(chan struct{}, 1),
		delivered:    make(chan struct{}),
		dispatchDone: make(chan struct{}),
		released:     make(chan struct{}),
		finished:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.Mode == "" {
		o.cfg.Mode = ModeHybrid
	}

	return o
}

// Subscribe adds a listener and returns a function removing it. A listener added after the
// job resolved still receives the terminal event; once delivery finished it gets it before
// Subscribe returns.
func (o *Orchestrator) Subscribe(l Listener) func() {
	s := subscription{id: uuid.NewString(), listener: l}

	o.mu.Lock()
	switch {
	case o.terminal == nil:
		o.subs = append(o.subs, s)
	case !o.replayed:
		o.late = append(o.late, s)
	default:
		ev := *o.terminal
		o.mu.Unlock()
		o.deliver(l, ev)
		return func() {}
	}
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.subs = removeSubscription(o.subs, s.id)
		o.late = removeSubscription(o.late, s.id)
	}
}

func removeSubscription(subs []subscription, id string) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// StartTracking begins monitoring jobID. Calling it again for the same job is a no-op.
func (o *Orchestrator) StartTracking(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.started {
		current := o.jobID
		o.mu.Unlock()
		if current == jobID {
			return nil
		}
		return fmt.Errorf("%w: %s (requested %s)", domain.ErrAlreadyTracking, current, jobID)
	}
	if o.stopped {
		o.mu.Unlock()
		return fmt.Errorf("%w: orchestrator already stopped", domain.ErrCanceled)
	}
	if o.cfg.Mode != ModePull && o.newChannel == nil {
		o.mu.Unlock()
		return fmt.Errorf("mode %s requires a push channel factory", o.cfg.Mode)
	}

	o.started = true
	o.jobID = jobID
	o.startedAt = o.clock.Now()
	o.logger = o.logger.With(slog.String("job_id", jobID))
	o.mu.Unlock()

	go o.dispatch()
	go o.finish()

	o.logger.Info("Tracking started",
		slog.String("mode", string(o.cfg.Mode)),
		slog.Duration("connect_timeout", o.cfg.ConnectTimeout),
	)

	if o.cfg.Mode == ModePull {
		o.startPull("pull mode")
		return nil
	}

	go o.connectPush()
	return nil
}

// StopTracking cancels every channel and timer of the job and returns once they are released.
// If the job had not resolved, listeners receive a single cancellation error.
func (o *Orchestrator) StopTracking(ctx context.Context) error {
	o.mu.Lock()
	if !o.started {
		o.stopped = true
		o.mu.Unlock()
		o.cancel()
		return nil
	}

	if !o.resolved {
		o.resolved = true
		o.result = domain.FailureResult(o.jobID, "", o.clock.Since(o.startedAt),
			fmt.Errorf("%w: tracking of job %s stopped", domain.ErrCanceled, o.jobID))

		// drop what has not been delivered yet, only the cancellation follows
		o.queue = o.queue[:0]
		o.enqueueLocked(domain.TerminalEvent(o.result, o.clock.Now()))
	}
	o.stopped = true
	o.stopSilenceLocked()
	push := o.push
	pullActive := o.pullActive
	jobID := o.jobID
	o.mu.Unlock()

	o.cancel()

	if push != nil {
		push.Disconnect()
	}
	if pullActive {
		o.cancelPull(jobID)
	}
	o.release()

	if push != nil {
		select {
		case <-push.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for push channel: %w", ctx.Err())
		}
	}

	select {
	case <-o.dispatchDone:
	case <-ctx.Done():
		return fmt.Errorf("waiting for listeners: %w", ctx.Err())
	}

	o.logger.Info("Tracking stopped")
	return nil
}

// Wait blocks until the job resolved and every listener has seen the terminal event
func (o *Orchestrator) Wait(ctx context.Context) (domain.TaskResult, error) {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		return domain.TaskResult{}, domain.ErrNotTracked
	}

	select {
	case <-o.delivered:
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.result, nil
	case <-ctx.Done():
		return domain.TaskResult{}, ctx.Err()
	}
}

// Done is closed once the terminal event has been delivered and the losing channel released,
// including the registry slot of the job. The job may be tracked again from then on.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.finished
}

// JobID returns the tracked job, empty before StartTracking
func (o *Orchestrator) JobID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.jobID
}

// Snapshot returns the current view of the job
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		JobID:        o.jobID,
		Mode:         o.cfg.Mode,
		Resolved:     o.resolved,
		PushActive:   o.push != nil && !o.pushAbandoned && !o.resolved,
		PullActive:   o.pullActive && !o.resolved,
		LastStatus:   o.lastStatus,
		LastProgress: o.lastProgress,
		StartedAt:    o.startedAt,
	}
	if o.resolved {
		result := o.result
		s.Result = &result
	}
	return s
}

func (o *Orchestrator) connectPush() {
	ch := o.newChannel(o.jobID, o.cfg.Channel, o.handle)

	o.mu.Lock()
	if o.stopped || o.resolved {
		o.mu.Unlock()
		ch.Disconnect()
		return
	}
	o.push = ch
	o.mu.Unlock()

	connected := make(chan error, 1)
	go func() {
		connected <- ch.Connect(o.ctx)
	}()

	var timeout <-chan time.Time
	if o.cfg.ConnectTimeout > 0 {
		timeout = o.clock.After(o.cfg.ConnectTimeout)
	}

	select {
	case err := <-connected:
		if err != nil {
			o.pushUnavailable(err)
			return
		}
		o.pushConnected()
	case <-timeout:
		o.pushUnavailable(fmt.Errorf("%w: push channel not connected within %s", domain.ErrTimeout, o.cfg.ConnectTimeout))
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) pushConnected() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped || o.resolved || o.pushAbandoned {
		return
	}
	if o.cfg.Mode == ModeHybrid {
		if window := o.cfg.silenceWindow(); window > 0 {
			o.silence = o.clock.AfterFunc(window, o.onSilence)
		}
	}
	o.logger.Debug("Push channel driving progress")
}

// pushUnavailable handles a failed or timed out connect
func (o *Orchestrator) pushUnavailable(err error) {
	o.mu.Lock()
	if o.stopped || o.resolved {
		o.mu.Unlock()
		return
	}
	push := o.push
	if o.cfg.Mode == ModePush {
		o.mu.Unlock()
		o.logger.Error("Push channel unavailable", slog.Any("error", err))
		o.handle(domain.TerminalEvent(
			domain.FailureResult(o.jobID, domain.SourcePush, 0, fmt.Errorf("push channel unavailable: %w", err)),
			o.clock.Now(),
		))
		return
	}
	o.pushAbandoned = true
	o.mu.Unlock()

	// a connect still in flight is abandoned, whatever it reports later is ignored
	push.Disconnect()

	o.logger.Warn("Push channel unavailable, falling back to polling", slog.Any("error", err))
	o.startPull("push connect failed")
}

func (o *Orchestrator) onSilence() {
	o.mu.Lock()
	if o.stopped || o.resolved || o.pullActive {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	o.logger.Warn("Push channel silent, starting polling alongside",
		slog.Duration("silence_window", o.cfg.silenceWindow()),
	)
	o.startPull("push channel silent")
}

func (o *Orchestrator) startPull(reason string) {
	o.mu.Lock()
	if o.stopped || o.resolved || o.pullActive {
		o.mu.Unlock()
		return
	}
	o.pullActive = true
	o.pulling.Add(1)
	o.mu.Unlock()
	defer o.pulling.Done()

	o.logger.Info("Polling activated", slog.String("reason", reason))

	if err := o.pull.Track(o.jobID, o.cfg.Polling, o.handle); err != nil {
		o.handle(domain.TerminalEvent(
			domain.FailureResult(o.jobID, domain.SourcePull, 0, fmt.Errorf("start polling: %w", err)),
			o.clock.Now(),
		))
		return
	}

	// resolved while Track was running: teardown may have found nothing to cancel
	o.mu.Lock()
	over := o.resolved || o.stopped
	o.mu.Unlock()
	if over {
		o.cancelPull(o.jobID)
	}
}

// handle is the single entry point for events from both channels. It never blocks:
// accepted events are queued for the dispatcher.
func (o *Orchestrator) handle(ev domain.Event) {
	o.mu.Lock()

	if o.resolved || o.stopped {
		o.mu.Unlock()
		if ev.Terminal() {
			o.logger.Info("Discarding terminal event after resolution",
				slog.String("source", string(ev.Source)),
				slog.String("kind", ev.Kind.String()),
				slog.String("status", string(ev.Status)),
			)
		}
		return
	}
	if ev.Source == domain.SourcePush && o.pushAbandoned {
		o.mu.Unlock()
		return
	}

	switch ev.Kind {
	case domain.EventDiagnostic:
		o.mu.Unlock()
		o.logger.Debug("Channel diagnostic", slog.String("source", string(ev.Source)), slog.Any("error", ev.Err))
		return

	case domain.EventProgress:
		o.lastProgress = ev.Progress
		if ev.Source == domain.SourcePush && o.silence != nil {
			o.silence.Reset(o.cfg.silenceWindow())
		}

	case domain.EventStatus:
		o.lastStatus = ev.Status

	case domain.EventComplete, domain.EventError:
		if o.pushFallbackLocked(ev) {
			o.mu.Unlock()
			o.startPull("push channel failed")
			return
		}
		o.resolveLocked(ev)
		push, pullActive, winner := o.push, o.pullActive, ev.Source
		o.mu.Unlock()

		o.teardown(push, pullActive, winner)
		return
	}

	o.enqueueLocked(ev)
	o.mu.Unlock()
}

// pushFallbackLocked abandons a push channel that broke in hybrid mode so polling can take over.
// It reports whether ev was absorbed.
func (o *Orchestrator) pushFallbackLocked(ev domain.Event) bool {
	if o.cfg.Mode != ModeHybrid || ev.Source != domain.SourcePush || ev.Kind != domain.EventError {
		return false
	}
	switch domain.KindOf(ev.Err) {
	case domain.ErrorKindTransport, domain.ErrorKindProtocol:
	default:
		return false
	}

	o.pushAbandoned = true
	o.stopSilenceLocked()
	o.logger.Warn("Push channel failed, falling back to polling", slog.Any("error", ev.Err))
	return true
}

func (o *Orchestrator) resolveLocked(ev domain.Event) {
	o.resolved = true
	o.result = *ev.Result
	o.result.Duration = o.clock.Since(o.startedAt)
	o.lastStatus = o.result.FinalStatus
	o.stopSilenceLocked()

	resolved := domain.TerminalEvent(o.result, ev.Time)
	o.enqueueLocked(resolved)

	o.logger.Info("Job resolved",
		slog.String("source", string(ev.Source)),
		slog.Bool("success", o.result.Success),
		slog.String("final_status", string(o.result.FinalStatus)),
		slog.Duration("duration", o.result.Duration),
	)
}

// teardown releases the losing side after resolution. The registry is only canceled when push won:
// a pull resolution already released its own slot and is emitted under the registry's entry lock.
func (o *Orchestrator) teardown(push PushChannel, pullActive bool, winner domain.Source) {
	o.cancel()

	if push != nil {
		push.Disconnect()
	}
	if pullActive && winner != domain.SourcePull {
		o.cancelPull(o.jobID)
	}
	o.release()
}

func (o *Orchestrator) cancelPull(jobID string) {
	if err := o.pull.Cancel(jobID); err != nil && !errors.Is(err, domain.ErrNotTracked) {
		o.logger.Warn("Failed to cancel polling", slog.Any("error", err))
	}
}

func (o *Orchestrator) release() {
	o.releaseOnce.Do(func() { close(o.released) })
}

// finish closes Done once delivery, teardown and any pending registry Track are over
func (o *Orchestrator) finish() {
	<-o.delivered
	<-o.released
	o.pulling.Wait()
	close(o.finished)
}

func (o *Orchestrator) stopSilenceLocked() {
	if o.silence != nil {
		o.silence.Stop()
		o.silence = nil
	}
}

func (o *Orchestrator) enqueueLocked(ev domain.Event) {
	o.queue = append(o.queue, ev)
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// dispatch delivers queued events to listeners in order until the terminal one
func (o *Orchestrator) dispatch() {
	defer close(o.dispatchDone)

	for range o.wake {
		o.mu.Lock()
		batch := o.queue
		o.queue = nil
		subs := append([]subscription(nil), o.subs...)
		for i := range batch {
			if batch[i].Terminal() {
				o.terminal = &batch[i]
			}
		}
		o.mu.Unlock()

		for _, ev := range batch {
			for _, s := range subs {
				o.deliver(s.listener, ev)
			}
			if ev.Terminal() {
				o.replayTerminal(ev)
				close(o.delivered)
				return
			}
		}
	}
}

// replayTerminal hands ev to listeners that subscribed while it was being delivered
func (o *Orchestrator) replayTerminal(ev domain.Event) {
	for {
		o.mu.Lock()
		late := o.late
		o.late = nil
		if len(late) == 0 {
			o.replayed = true
			o.mu.Unlock()
			return
		}
		o.subs = append(o.subs, late...)
		o.mu.Unlock()

		for _, s := range late {
			o.deliver(s.listener, ev)
		}
	}
}

func (o *Orchestrator) deliver(l Listener, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Listener panicked", slog.Any("panic", r), slog.String("event", ev.Kind.String()))
		}
	}()

	switch ev.Kind {
	case domain.EventProgress:
		l.OnProgress(*ev.Progress)
	case domain.EventStatus:
		if sl, ok := l.(StatusListener); ok {
			sl.OnStatus(ev.JobID, ev.Status, ev.Source)
		}
	case domain.EventComplete:
		l.OnComplete(*ev.Result)
	case domain.EventError:
		l.OnError(domain.NewProcessingError(*ev.Result))
	}
}
