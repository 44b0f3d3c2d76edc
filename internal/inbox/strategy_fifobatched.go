package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// FIFOBatchedStrategy groups the captured batch by GroupID, and within
// each group splits into maximal runs of consecutive same-type messages.
// Each run is dispatched as one batched-FIFO handler call; runs within a
// group execute sequentially, groups execute in parallel up to
// MaxProcessingThreads. The group lock is released on group completion.
type FIFOBatchedStrategy struct {
	base
	provider StorageProvider
}

func NewFIFOBatchedStrategy(registry *Registry, opts Options, logger *slog.Logger, provider StorageProvider) *FIFOBatchedStrategy {
	return &FIFOBatchedStrategy{base: newBase(registry, opts, logger), provider: provider}
}

func (s *FIFOBatchedStrategy) Process(ctx context.Context, workerID string, messages []*InboxMessage, pctx *ProcessingContext) error {
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
					s.logger.Error("fifo-batched group handler panicked", "inbox", s.opts.InboxName, "group_id", groupID, "panic", r)
				}
			}()
			for _, run := range groupConsecutiveRuns(msgs) {
				s.dispatchRun(ctx, groupID, run, pctx)
			}
		}(groupID, msgs)
	}
	wg.Wait()
	return nil
}

func (s *FIFOBatchedStrategy) dispatchRun(ctx context.Context, groupID string, run []*InboxMessage, pctx *ProcessingContext) {
	desc, ok := s.registry.lookup(run[0].MessageType)
	if !ok || desc.invokeFIFOBatch == nil {
		reason := fmt.Sprintf("no handler registered for message type %q", run[0].MessageType)
		for _, m := range run {
			pctx.DispatchFailure(m, reason)
		}
		return
	}

	outcomes := s.executeBatchWithTimeout(ctx, len(run), func(cctx context.Context) []outcome {
		return desc.invokeFIFOBatch(cctx, groupID, run)
	})

	for i, m := range run {
		o := outcomes[i]
		if o.dispatchFailure {
			pctx.DispatchFailure(m, o.reason)
		} else {
			pctx.Classify(m, o.result, o.reason)
		}
	}
}
