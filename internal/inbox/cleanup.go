package inbox

import (
	"context"
	"log/slog"
	"time"
)

// CleanupTask is one pass of a periodic cleanup loop.
type CleanupTask func(ctx context.Context) error

// cleanupSupervisor runs a CleanupTask on a fixed interval, restarting
// after RestartDelay on uncaught error and exiting cleanly on
// cancellation — the same supervisor shape for all three cleanup loops
// (spec §4.J).
//
// Grounded on internal/outbox/processor.go's runPeriodicRecovery.
type cleanupSupervisor struct {
	inboxName    string
	name         string
	interval     time.Duration
	restartDelay time.Duration
	task         CleanupTask
	logger       *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func newCleanupSupervisor(inboxName, name string, interval, restartDelay time.Duration, task CleanupTask, logger *slog.Logger) *cleanupSupervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &cleanupSupervisor{inboxName: inboxName, name: name, interval: interval, restartDelay: restartDelay, task: task, logger: logger}
}

func (s *cleanupSupervisor) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(cctx)
}

func (s *cleanupSupervisor) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.runOnce(ctx); err != nil {
			cleanupRuns.WithLabelValues(s.inboxName, s.name, "error").Inc()
			s.logger.Error("cleanup task error", "task", s.name, "error", err)
			if !sleepCtx(ctx, s.restartDelay) {
				return
			}
			continue
		}
		cleanupRuns.WithLabelValues(s.inboxName, s.name, "ok").Inc()

		if !sleepCtx(ctx, s.interval) {
			return
		}
	}
}

func (s *cleanupSupervisor) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{name: s.name, value: r}
		}
	}()
	return s.task(ctx)
}

func (s *cleanupSupervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

type panicError struct {
	name  string
	value any
}

func (e *panicError) Error() string {
	return "cleanup task " + e.name + " panicked"
}

// DeadLetterCleanupTask deletes dead-letter records older than
// DeadLetterMaxMessageLifetime. Enabled only when both dead letter is on
// and the lifetime is positive and the provider implements
// DeadLetterCleaner.
func DeadLetterCleanupTask(provider StorageProvider, inboxName string, opts Options, clock Clock) (CleanupTask, bool) {
	cleaner, ok := provider.(DeadLetterCleaner)
	if !ok || !opts.EnableDeadLetter || opts.DeadLetterMaxMessageLifetime <= 0 {
		return nil, false
	}
	return func(ctx context.Context) error {
		cutoff := clock.Now().Add(-opts.DeadLetterMaxMessageLifetime)
		_, err := cleaner.CleanupDeadLetters(ctx, inboxName, cutoff)
		return err
	}, true
}

// DeduplicationCleanupTask deletes dedup records older than
// DeduplicationInterval. Durable backends delete in batches of
// CleanupBatchSize until exhausted per cycle.
func DeduplicationCleanupTask(provider StorageProvider, inboxName string, opts Options, clock Clock) (CleanupTask, bool) {
	cleaner, ok := provider.(DeduplicationCleaner)
	if !ok || !opts.EnableDeduplication || opts.DeduplicationInterval <= 0 {
		return nil, false
	}
	return func(ctx context.Context) error {
		cutoff := clock.Now().Add(-opts.DeduplicationInterval)
		for {
			n, err := cleaner.CleanupDeduplicationRecords(ctx, inboxName, cutoff, opts.CleanupBatchSize)
			if err != nil {
				return err
			}
			if n < int64(opts.CleanupBatchSize) {
				return nil
			}
		}
	}, true
}

// GroupLockCleanupTask releases group locks held past MaxProcessingTime.
// FIFO modes only, durable backends only.
func GroupLockCleanupTask(provider StorageProvider, inboxName string, opts Options, clock Clock) (CleanupTask, bool) {
	cleaner, ok := provider.(GroupLockCleaner)
	if !ok || !opts.IsFIFO() {
		return nil, false
	}
	return func(ctx context.Context) error {
		cutoff := clock.Now().Add(-opts.MaxProcessingTime)
		_, err := cleaner.CleanupExpiredGroupLocks(ctx, inboxName, cutoff)
		return err
	}, true
}
