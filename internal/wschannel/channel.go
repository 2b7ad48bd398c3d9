// Package wschannel implements the push side of job monitoring: one websocket per job,
// with heartbeat and bounded reconnects.
package wschannel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/backoff"
	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// State is the lifecycle of the current connection attempt
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Options configures a Channel
type Options struct {
	ConnectTimeout         time.Duration
	HeartbeatInterval      time.Duration
	Reconnect              backoff.Policy
	ProtocolErrorThreshold int
	Header                 http.Header
	Dialer                 Dialer
	Clock                  clockwork.Clock
	Logger                 *slog.Logger
}

// DefaultOptions returns the channel defaults
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:         5 * time.Second,
		HeartbeatInterval:      30 * time.Second,
		Reconnect:              backoff.Default(),
		ProtocolErrorThreshold: 5,
	}
}

// Channel is the push connection for a single job
type Channel struct {
	jobID  string
	url    string
	opts   Options
	emit   domain.EventHandler
	dialer Dialer
	clock  clockwork.Clock
	logger *slog.Logger

	// ctx is canceled by Disconnect and aborts dials and reconnect waits
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	conn           Conn
	started        bool
	closing        bool
	resolved       bool
	startedAt      time.Time
	lastStatus     domain.JobStatus
	protocolErrors int

	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a channel for jobID. Events are delivered to emit from a single goroutine, in order.
func New(jobID, url string, emit domain.EventHandler, opts Options) *Channel {
	if opts.Dialer == nil {
		opts.Dialer = GorillaDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if emit == nil {
		emit = func(domain.Event) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Channel{
		jobID:  jobID,
		url:    url,
		opts:   opts,
		emit:   emit,
		dialer: opts.Dialer,
		clock:  opts.Clock,
		logger: opts.Logger.With(slog.String("job_id", jobID), slog.String("source", string(domain.SourcePush))),
		ctx:    ctx,
		cancel: cancel,
		state:  StateConnecting,
		done:   make(chan struct{}),
	}
}

// JobID returns the tracked job
func (c *Channel) JobID() string {
	return c.jobID
}

// State returns the current connection state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the channel has stopped for good
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Connect opens the connection and returns once it is established. A failed first attempt is not retried.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return fmt.Errorf("%w: channel for job %s is closed", domain.ErrCanceled, c.jobID)
	}
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("channel for job %s already started", c.jobID)
	}
	c.started = true
	c.state = StateConnecting
	c.startedAt = c.clock.Now()
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateError)
		c.logger.Warn("Push channel connect failed", slog.Any("error", err))
		c.finish()
		return err
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = conn.Close()
		c.finish()
		return fmt.Errorf("%w: channel for job %s closed while connecting", domain.ErrCanceled, c.jobID)
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("Push channel connected", slog.String("url", c.url))

	go c.run(conn)
	return nil
}

// Disconnect closes the channel without reconnecting and without emitting further events.
// It does not wait, use Done for that.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	conn := c.conn
	started := c.started
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		c.closeConn(conn)
	}
	if !started {
		c.finish()
	}

	c.logger.Debug("Push channel disconnect requested")
}

func (c *Channel) dial(ctx context.Context) (Conn, error) {
	var (
		dialCtx context.Context
		cancel  context.CancelFunc
	)
	if c.opts.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
	} else {
		dialCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	conn, err := c.dialer.Dial(dialCtx, c.url, c.opts.Header)
	if err != nil {
		if !errors.Is(err, domain.ErrTransport) {
			err = domain.NewTransportError("websocket dial", err)
		}
		return nil, err
	}
	return conn, nil
}

// run owns the connection until the job resolves, the caller disconnects, or reconnects run out
func (c *Channel) run(conn Conn) {
	defer c.finish()

	for {
		err := c.serve(conn)
		if c.stopped() {
			return
		}

		state := StateError
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			state = StateDisconnected
		}
		c.setState(state)
		c.logger.Warn("Push channel lost", slog.String("state", string(state)), slog.Any("error", err))

		next, ok := c.reconnect(err)
		if !ok {
			return
		}
		conn = next
	}
}

// serve reads from conn until it fails or the job resolves
func (c *Channel) serve(conn Conn) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	if c.opts.HeartbeatInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.heartbeat(conn, stop)
		}()
	}
	defer func() {
		close(stop)
		wg.Wait()
		c.closeConn(conn)
	}()

	h := &messageHandler{c: c}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ParseMessage(data).Accept(h)

		if c.stopped() {
			return nil
		}
	}
}

func (c *Channel) heartbeat(conn Conn, stop <-chan struct{}) {
	ticker := c.clock.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if err := c.write(conn, websocket.TextMessage, pingFrame); err != nil {
				c.logger.Debug("Heartbeat failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (c *Channel) reconnect(cause error) (Conn, bool) {
	policy := c.opts.Reconnect
	lastErr := cause

	for attempt := 1; !policy.Exhausted(attempt - 1); attempt++ {
		delay := policy.Delay(attempt)
		c.logger.Info("Scheduling push reconnect",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", policy.MaxAttempts),
			slog.Duration("delay", delay),
		)

		if err := backoff.Sleep(c.ctx, c.clock, delay); err != nil {
			return nil, false
		}

		c.setState(StateConnecting)
		conn, err := c.dial(c.ctx)
		if err != nil {
			lastErr = err
			c.setState(StateError)
			c.logger.Warn("Push reconnect failed", slog.Int("attempt", attempt), slog.Any("error", err))
			continue
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			_ = conn.Close()
			return nil, false
		}
		c.conn = conn
		c.state = StateConnected
		c.mu.Unlock()

		c.logger.Info("Push channel reconnected", slog.Int("attempt", attempt))
		return conn, true
	}

	err := domain.NewTransportError("websocket reconnect",
		fmt.Errorf("gave up after %d attempts: %w", policy.MaxAttempts, lastErr))
	c.resolve(domain.FailureResult(c.jobID, domain.SourcePush, 0, err))
	return nil, false
}

func (c *Channel) write(conn Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

func (c *Channel) closeConn(conn Conn) {
	_ = c.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}

func (c *Channel) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Channel) stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing || c.resolved
}

func (c *Channel) finish() {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		if c.closing || c.resolved {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		c.cancel()
		close(c.done)
	})
}

// publish forwards ev unless the channel was disconnected or already resolved
func (c *Channel) publish(ev domain.Event) bool {
	c.mu.Lock()
	if c.closing || c.resolved {
		c.mu.Unlock()
		return false
	}
	if ev.Terminal() {
		c.resolved = true
	}
	c.mu.Unlock()

	c.emit(ev)
	return true
}

func (c *Channel) resolve(result domain.TaskResult) {
	c.mu.Lock()
	result.Duration = c.clock.Since(c.startedAt)
	c.mu.Unlock()

	if !c.publish(domain.TerminalEvent(result, c.clock.Now())) {
		return
	}

	if result.Success {
		c.logger.Info("Job resolved over push", slog.String("final_status", string(result.FinalStatus)))
	} else {
		c.logger.Warn("Job failed over push",
			slog.String("final_status", string(result.FinalStatus)),
			slog.String("error", result.ErrorMessage()),
		)
	}
}

func (c *Channel) observe(job domain.Job) {
	if job.ID != "" && job.ID != c.jobID {
		c.protocolFailure(fmt.Sprintf("%+v", job), &domain.ProtocolError{
			Err: fmt.Errorf("update for task %s on channel for %s", job.ID, c.jobID),
		})
		return
	}
	job.ID = c.jobID
	now := c.clock.Now()

	c.mu.Lock()
	c.protocolErrors = 0
	changed := job.Status != c.lastStatus
	c.lastStatus = job.Status
	c.mu.Unlock()

	c.publish(domain.ProgressEvent(domain.NewProgressUpdate(job, domain.SourcePush, now)))
	if changed {
		c.publish(domain.StatusEvent(c.jobID, domain.SourcePush, job.Status, now))
	}
	if job.Status.IsTerminal() {
		c.resolve(domain.ResultFromStatus(job, domain.SourcePush, 0))
	}
}

// protocolFailure surfaces a bad frame, escalating once the threshold of consecutive bad frames is hit
func (c *Channel) protocolFailure(raw string, err error) {
	c.mu.Lock()
	c.protocolErrors++
	count := c.protocolErrors
	c.mu.Unlock()

	threshold := c.opts.ProtocolErrorThreshold
	if threshold > 0 && count >= threshold {
		c.resolve(domain.FailureResult(c.jobID, domain.SourcePush, 0,
			fmt.Errorf("%d consecutive malformed messages: %w", count, err)))
		return
	}

	c.logger.Debug("Ignoring malformed push message", slog.String("raw", raw), slog.Any("error", err))
	c.publish(domain.DiagnosticEvent(c.jobID, domain.SourcePush, err, c.clock.Now()))
}

type messageHandler struct {
	c *Channel
}

func (h *messageHandler) VisitConnection(m ConnectionMessage) {
	h.c.logger.Debug("Push channel attached", slog.String("status", string(m.Job.Status)))
	h.c.observe(m.Job)
}

func (h *messageHandler) VisitUpdate(m UpdateMessage) {
	h.c.observe(m.Job)
}

func (h *messageHandler) VisitError(m ErrorMessage) {
	h.c.resolve(domain.FailureResult(h.c.jobID, domain.SourcePush, 0,
		fmt.Errorf("%w: server reported: %s", domain.ErrJobFailed, m.Text)))
}

func (h *messageHandler) VisitHeartbeat(m HeartbeatMessage) {
	h.c.logger.Debug("Heartbeat received", slog.String("kind", m.Kind))
}

func (h *messageHandler) VisitUnknown(m UnknownMessage) {
	h.c.protocolFailure(m.Raw, m.Err)
}
