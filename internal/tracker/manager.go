// Package tracker runs one orchestrator per job on top of a shared polling registry.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/docling"
	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/btwld/docling-sdk-sub000/internal/progress"
	"github.com/btwld/docling-sdk-sub000/internal/registry"
	"github.com/jonboulle/clockwork"
)

// DefaultRetention is how long a resolved job stays visible to Wait and Snapshot
const DefaultRetention = 10 * time.Minute

// Option configures the Manager
type Option func(*Manager)

// WithClock sets the clock shared by the orchestrators
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets a logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSink attaches a listener to every tracked job
func WithSink(l progress.Listener) Option {
	return func(m *Manager) {
		if l != nil {
			m.sinks = append(m.sinks, l)
		}
	}
}

// WithRetention sets how long resolved jobs are kept
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		m.retention = d
	}
}

// Manager tracks many jobs concurrently
type Manager struct {
	registry   *registry.Registry
	newChannel progress.ChannelFactory
	defaults   progress.Config
	clock      clockwork.Clock
	logger     *slog.Logger
	sinks      []progress.Listener
	retention  time.Duration

	mu     sync.Mutex
	jobs   map[string]*progress.Orchestrator
	recent map[string]*progress.Orchestrator
	closed bool
	wg     sync.WaitGroup
}

// New creates a manager. newChannel may be nil when only pull mode is used.
func New(reg *registry.Registry, newChannel progress.ChannelFactory, defaults progress.Config, opts ...Option) *Manager {
	m := &Manager{
		registry:   reg,
		newChannel: newChannel,
		defaults:   defaults,
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		retention:  DefaultRetention,
		jobs:       make(map[string]*progress.Orchestrator),
		recent:     make(map[string]*progress.Orchestrator),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// NewForClient wires a manager to the conversion service: polling through client and
// push channels on its status websocket
func NewForClient(client *docling.Client, defaults progress.Config, opts ...Option) *Manager {
	m := New(nil, nil, defaults, opts...)
	m.registry = registry.New(client, registry.WithClock(m.clock), registry.WithLogger(m.logger))
	m.newChannel = WebSocketFactory(client, nil, m.clock, m.logger)
	return m
}

// Defaults returns the configuration used when a caller has none
func (m *Manager) Defaults() progress.Config {
	return m.defaults
}

// Track starts monitoring jobID with cfg. Tracking an active job attaches the listeners to it.
func (m *Manager) Track(ctx context.Context, jobID string, cfg progress.Config, listeners ...progress.Listener) (*progress.Orchestrator, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: tracker is shut down", domain.ErrCanceled)
	}
	if orch, ok := m.jobs[jobID]; ok {
		m.mu.Unlock()
		for _, l := range listeners {
			orch.Subscribe(l)
		}
		return orch, nil
	}

	orch := progress.New(m.registry, m.newChannel, cfg, progress.WithClock(m.clock), progress.WithLogger(m.logger))
	for _, l := range m.sinks {
		orch.Subscribe(l)
	}
	for _, l := range listeners {
		orch.Subscribe(l)
	}
	m.jobs[jobID] = orch
	delete(m.recent, jobID)
	m.mu.Unlock()

	if err := orch.StartTracking(ctx, jobID); err != nil {
		m.mu.Lock()
		if m.jobs[jobID] == orch {
			delete(m.jobs, jobID)
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to start tracking %s: %w", jobID, err)
	}

	m.wg.Add(1)
	go m.release(jobID, orch)

	return orch, nil
}

// release moves a job out of the active set once it resolved
func (m *Manager) release(jobID string, orch *progress.Orchestrator) {
	defer m.wg.Done()
	<-orch.Done()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.jobs[jobID] != orch {
		return
	}
	delete(m.jobs, jobID)

	if m.retention <= 0 {
		return
	}
	m.recent[jobID] = orch
	m.clock.AfterFunc(m.retention, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.recent[jobID] == orch {
			delete(m.recent, jobID)
		}
	})
}

func (m *Manager) lookup(jobID string) (*progress.Orchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if orch, ok := m.jobs[jobID]; ok {
		return orch, true
	}
	orch, ok := m.recent[jobID]
	return orch, ok
}

// Stop cancels tracking of jobID
func (m *Manager) Stop(ctx context.Context, jobID string) error {
	m.mu.Lock()
	orch, ok := m.jobs[jobID]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotTracked, jobID)
	}
	return orch.StopTracking(ctx)
}

// Wait blocks until jobID resolves
func (m *Manager) Wait(ctx context.Context, jobID string) (domain.TaskResult, error) {
	orch, ok := m.lookup(jobID)
	if !ok {
		return domain.TaskResult{}, fmt.Errorf("%w: %s", domain.ErrNotTracked, jobID)
	}
	return orch.Wait(ctx)
}

// Snapshot returns the current view of jobID, including recently resolved jobs
func (m *Manager) Snapshot(jobID string) (progress.Snapshot, error) {
	orch, ok := m.lookup(jobID)
	if !ok {
		return progress.Snapshot{}, fmt.Errorf("%w: %s", domain.ErrNotTracked, jobID)
	}
	return orch.Snapshot(), nil
}

// Active returns the ids of every unresolved job
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops every job and the polling registry
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	active := make([]*progress.Orchestrator, 0, len(m.jobs))
	for _, orch := range m.jobs {
		active = append(active, orch)
	}
	m.mu.Unlock()

	var errs []error
	for _, orch := range active {
		if err := orch.StopTracking(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", orch.JobID(), err))
		}
	}

	if err := m.registry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for trackers: %w", ctx.Err()))
	}

	m.logger.Info("Tracker stopped", slog.Int("stopped_jobs", len(active)))
	return errors.Join(errs...)
}
