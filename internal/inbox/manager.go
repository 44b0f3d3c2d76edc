package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// inboxEntry bundles one named inbox's loop with its cleanup supervisors.
type inboxEntry struct {
	opts      Options
	provider  StorageProvider
	loop      *ProcessingLoop
	cleanups  []*cleanupSupervisor
}

// Manager is the CLI/lifecycle surface: start/stop/is-running/get-inbox,
// driving every registered inbox's processing loop and its cleanup loops
// as one group.
//
// Grounded on internal/common/lifecycle/manager.go's phased ShutdownHook
// orchestration, generalized from HTTP/queue/worker/leader/database
// phases to a flat set of inbox loops plus their cleanup supervisors
// (the inbox engine has no phase ordering requirement of its own: every
// inbox and its cleanup loops start together and stop together).
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*inboxEntry
	running atomic.Bool
	logger  *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{entries: make(map[string]*inboxEntry), logger: logger}
}

// Register adds a named inbox with its processing loop and the cleanup
// tasks applicable under its Options, built via buildCleanupSupervisors.
func (m *Manager) Register(opts Options, provider StorageProvider, loop *ProcessingLoop, clock Clock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[opts.InboxName]; exists {
		return fmt.Errorf("inbox: inbox %q already registered", opts.InboxName)
	}

	m.entries[opts.InboxName] = &inboxEntry{
		opts:     opts,
		provider: provider,
		loop:     loop,
		cleanups: buildCleanupSupervisors(opts, provider, clock, m.logger),
	}
	return nil
}

func buildCleanupSupervisors(opts Options, provider StorageProvider, clock Clock, logger *slog.Logger) []*cleanupSupervisor {
	var supervisors []*cleanupSupervisor

	if task, ok := DeadLetterCleanupTask(provider, opts.InboxName, opts, clock); ok {
		supervisors = append(supervisors, newCleanupSupervisor(opts.InboxName, "dead_letter", opts.CleanupInterval, opts.RestartDelay, task, logger))
	}
	if task, ok := DeduplicationCleanupTask(provider, opts.InboxName, opts, clock); ok {
		supervisors = append(supervisors, newCleanupSupervisor(opts.InboxName, "dedup", opts.CleanupInterval, opts.RestartDelay, task, logger))
	}
	if task, ok := GroupLockCleanupTask(provider, opts.InboxName, opts, clock); ok {
		supervisors = append(supervisors, newCleanupSupervisor(opts.InboxName, "group_lock", opts.CleanupInterval, opts.RestartDelay, task, logger))
	}
	return supervisors
}

// Start starts every registered inbox's processing loop and cleanup
// supervisors.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.running.Load() {
		return errors.New("inbox: manager already running")
	}

	for name, e := range m.entries {
		e.loop.Start(ctx)
		for _, sup := range e.cleanups {
			sup.Start(ctx)
		}
		m.logger.Info("inbox started", "inbox", name, "type", e.opts.Type)
	}
	m.running.Store(true)
	return nil
}

// Stop stops every registered inbox's processing loop and cleanup
// supervisors, aggregating any shutdown errors.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, e := range m.entries {
		if err := e.loop.Stop(ctx); err != nil {
			m.logger.Warn("inbox shutdown did not complete cleanly", "inbox", name, "error", err)
			errs = append(errs, fmt.Errorf("inbox %q: %w", name, err))
		}
		for _, sup := range e.cleanups {
			sup.Stop()
		}
		m.logger.Info("inbox stopped", "inbox", name)
	}
	m.running.Store(false)
	return errors.Join(errs...)
}

// IsRunning reports whether Start has been called without a matching Stop.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// GetInbox returns the named inbox's processing loop, if registered.
func (m *Manager) GetInbox(name string) (*ProcessingLoop, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, false
	}
	return e.loop, true
}

// Migrate runs Migrate on every registered provider that supports it.
func (m *Manager) Migrate(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, e := range m.entries {
		migrator, ok := e.provider.(Migrator)
		if !ok {
			continue
		}
		if err := migrator.Migrate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("inbox %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// MigrateInbox runs Migrate for a single named inbox's provider.
func (m *Manager) MigrateInbox(ctx context.Context, name string) error {
	m.mu.RLock()
	e, ok := m.entries[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("inbox: inbox %q not registered", name)
	}
	migrator, ok := e.provider.(Migrator)
	if !ok {
		return fmt.Errorf("inbox %q: %w", name, ErrUnsupportedCapability)
	}
	return migrator.Migrate(ctx)
}
