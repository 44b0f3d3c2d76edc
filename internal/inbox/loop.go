package inbox

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// LoopState is one of the processing loop's one-way-per-cycle states.
type LoopState int32

const (
	LoopStopped LoopState = iota
	LoopStarting
	LoopRunning
	LoopStopping
)

func (s LoopState) String() string {
	switch s {
	case LoopStopped:
		return "stopped"
	case LoopStarting:
		return "starting"
	case LoopRunning:
		return "running"
	case LoopStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ProcessingLoop is the per-inbox driver: poll -> capture ->
// extend-lease-while-dispatching -> apply-results -> sleep/backoff.
//
// Grounded on internal/outbox/processor.go's runPoller/doPoll.
type ProcessingLoop struct {
	opts     Options
	provider StorageProvider
	strategy Strategy
	clock    Clock
	workerID string
	logger   *slog.Logger

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

func NewProcessingLoop(opts Options, provider StorageProvider, strategy Strategy, clock Clock, workerID string, logger *slog.Logger) *ProcessingLoop {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &ProcessingLoop{
		opts:     opts,
		provider: provider,
		strategy: strategy,
		clock:    clock,
		workerID: workerID,
		logger:   logger,
	}
}

func (l *ProcessingLoop) State() LoopState {
	return LoopState(l.state.Load())
}

// Start begins the poll loop in a background goroutine and returns
// immediately; callers cancel ctx (or call Stop) to initiate shutdown.
func (l *ProcessingLoop) Start(ctx context.Context) {
	l.state.Store(int32(LoopStarting))
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state.Store(int32(LoopRunning))
	go l.run(runCtx)
}

func (l *ProcessingLoop) run(ctx context.Context) {
	defer close(l.done)
	defer l.state.Store(int32(LoopStopped))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := l.provider.ReadAndCapture(ctx, l.opts.InboxName, l.workerID, l.opts.ReadBatchSize, l.opts.MaxProcessingTime)
		if err != nil {
			l.logger.Error("read-and-capture failed", "inbox", l.opts.InboxName, "error", err)
			if !sleepCtx(ctx, l.opts.PollingInterval) {
				return
			}
			continue
		}

		if len(messages) == 0 {
			if !sleepCtx(ctx, l.opts.PollingInterval) {
				return
			}
			continue
		}

		l.processBatch(ctx, messages)

		if l.opts.ReadDelay > 0 {
			if !sleepCtx(ctx, l.opts.ReadDelay) {
				return
			}
		}
	}
}

func (l *ProcessingLoop) processBatch(ctx context.Context, messages []*InboxMessage) {
	start := l.clock.Now()
	pctx := NewProcessingContext(l.opts.InboxName, l.opts.MaxAttempts)

	var stopExtender func()
	if l.opts.EnableLockExtension {
		ids := make([]string, len(messages))
		for i, m := range messages {
			ids[i] = m.ID
		}
		extender := NewLeaseExtender(l.provider, l.opts.InboxName, l.workerID, ids, l.opts, l.clock, l.logger)
		stopExtender = extender.Start(ctx)
	}

	err := l.strategy.Process(ctx, l.workerID, messages, pctx)
	if stopExtender != nil {
		stopExtender()
	}
	if err != nil {
		l.logger.Error("strategy processing failed", "inbox", l.opts.InboxName, "error", err)
	}

	if err := pctx.Apply(ctx, l.provider); err != nil {
		l.logger.Error("apply-results failed", "inbox", l.opts.InboxName, "error", err, "batch_size", len(messages))
	}

	processingDuration.WithLabelValues(l.opts.InboxName).Observe(l.clock.Now().Sub(start).Seconds())
}

// Stop cancels the loop and waits up to ShutdownTimeout for the current
// iteration to finish. If the timeout elapses, any still-captured
// messages are left captured to be recovered by lease expiry.
func (l *ProcessingLoop) Stop(ctx context.Context) error {
	if l.cancel == nil {
		return nil
	}
	l.state.Store(int32(LoopStopping))
	l.cancel()

	timer := time.NewTimer(l.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-l.done:
		return nil
	case <-timer.C:
		return ErrShutdownTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
