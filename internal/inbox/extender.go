package inbox

import (
	"context"
	"log/slog"
	"time"
)

// LeaseExtender periodically refreshes capture leases (and FIFO group
// locks) for a fixed set of message ids while their handler calls are in
// flight. Active only when EnableLockExtension is true and only while the
// batch is being processed.
//
// Grounded on internal/common/leader/election.go's refresh-on-ticker
// pattern, generalized from a single leader lock to N concurrently-held
// message leases.
type LeaseExtender struct {
	provider  StorageProvider
	inboxName string
	workerID  string
	ids       []string
	interval  time.Duration
	clock     Clock
	logger    *slog.Logger
}

func NewLeaseExtender(provider StorageProvider, inboxName, workerID string, ids []string, opts Options, clock Clock, logger *slog.Logger) *LeaseExtender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseExtender{
		provider:  provider,
		inboxName: inboxName,
		workerID:  workerID,
		ids:       ids,
		interval:  extensionInterval(opts.MaxProcessingTime, opts.LockExtensionThreshold),
		clock:     clock,
		logger:    logger,
	}
}

// Start runs the extender until ctx is cancelled or the returned stop
// function is called, whichever comes first. The extender stops itself at
// handler completion via the caller invoking stop.
func (e *LeaseExtender) Start(ctx context.Context) (stop func()) {
	if len(e.ids) == 0 || e.interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				n, err := e.provider.ExtendLeases(ctx, e.inboxName, e.workerID, e.ids, e.clock.Now())
				if err != nil {
					leaseExtensions.WithLabelValues(e.inboxName, "error").Inc()
					e.logger.Warn("lease extension failed", "inbox", e.inboxName, "worker", e.workerID, "error", err)
					continue
				}
				leaseExtensions.WithLabelValues(e.inboxName, "ok").Inc()
				e.logger.Debug("extended leases", "inbox", e.inboxName, "worker", e.workerID, "count", n)
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
	}
}
