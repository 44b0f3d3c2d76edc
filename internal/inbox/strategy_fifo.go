package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// releaseGroupLock releases groupID's lock using a non-cancellable token
// so shutdown does not leak locks, per spec §4.F. Providers that don't
// implement GroupLockReleaser fall back to doing nothing here — their
// group lock, if any, is only ever held implicitly and expires on its own.
func releaseGroupLock(ctx context.Context, provider StorageProvider, inboxName, groupID string, logger *slog.Logger) {
	releaser, ok := provider.(GroupLockReleaser)
	if !ok {
		return
	}
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := releaser.ReleaseGroupLocks(relCtx, inboxName, []string{groupID}); err != nil {
		logger.Warn("release group lock failed", "inbox", inboxName, "group_id", groupID, "error", err)
	}
}

// FIFOStrategy groups the captured batch by GroupID and processes groups
// in parallel up to MaxProcessingThreads, but strictly sequentially within
// a group. The group lock is released once the group's messages are fully
// processed, success or failure, including on panic.
//
// Grounded on internal/router/pool/pool.go's per-message-group dedicated
// goroutine + semaphore pattern (messageGroupQueues sync.Map,
// activeGroupThreads, the global semaphore channel).
type FIFOStrategy struct {
	base
	provider StorageProvider
}

func NewFIFOStrategy(registry *Registry, opts Options, logger *slog.Logger, provider StorageProvider) *FIFOStrategy {
	return &FIFOStrategy{base: newBase(registry, opts, logger), provider: provider}
}

func (s *FIFOStrategy) Process(ctx context.Context, workerID string, messages []*InboxMessage, pctx *ProcessingContext) error {
	order, groups := groupByKey(messages, func(m *InboxMessage) string { return m.GroupID })

	sem := make(chan struct{}, s.opts.MaxProcessingThreads)
	var wg sync.WaitGroup

	for _, groupID := range order {
		msgs := groups[groupID]
		sem <- struct{}{}
		wg.Add(1)
		go func(groupID string, msgs []*InboxMessage) {
			defer wg.Done()
			defer func() { <-sem }()
			defer releaseGroupLock(ctx, s.provider, s.opts.InboxName, groupID, s.logger)
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("fifo group handler panicked", "inbox", s.opts.InboxName, "group_id", groupID, "panic", r)
				}
			}()
			for _, m := range msgs {
				s.dispatchOne(ctx, m, pctx)
			}
		}(groupID, msgs)
	}
	wg.Wait()
	return nil
}

func (s *FIFOStrategy) dispatchOne(ctx context.Context, m *InboxMessage, pctx *ProcessingContext) {
	desc, ok := s.registry.lookup(m.MessageType)
	if !ok || desc.invokeSingle == nil {
		pctx.DispatchFailure(m, fmt.Sprintf("no handler registered for message type %q", m.MessageType))
		return
	}
	o := s.executeWithTimeout(ctx, func(cctx context.Context) outcome {
		return desc.invokeSingle(cctx, m)
	})
	if o.dispatchFailure {
		pctx.DispatchFailure(m, o.reason)
	} else {
		pctx.Classify(m, o.result, o.reason)
	}
}
