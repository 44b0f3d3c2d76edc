package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// BatchedStrategy groups the captured batch by MessageType and processes
// groups in parallel up to MaxProcessingThreads, calling the batched
// handler once per group.
//
// Grounded on internal/outbox/processor.go's collectBatch/processBatch
// (single API call carrying many items), generalized from one outbound
// API call per poll to one handler call per message-type group.
type BatchedStrategy struct {
	base
}

func NewBatchedStrategy(registry *Registry, opts Options, logger *slog.Logger) *BatchedStrategy {
	return &BatchedStrategy{base: newBase(registry, opts, logger)}
}

func (s *BatchedStrategy) Process(ctx context.Context, workerID string, messages []*InboxMessage, pctx *ProcessingContext) error {
	order, groups := groupByKey(messages, func(m *InboxMessage) string { return m.MessageType })

	sem := make(chan struct{}, s.opts.MaxProcessingThreads)
	var wg sync.WaitGroup

	for _, messageType := range order {
		msgs := groups[messageType]
		sem <- struct{}{}
		wg.Add(1)
		go func(messageType string, msgs []*InboxMessage) {
			defer wg.Done()
			defer func() { <-sem }()
			s.dispatchGroup(ctx, messageType, msgs, pctx)
		}(messageType, msgs)
	}
	wg.Wait()
	return nil
}

func (s *BatchedStrategy) dispatchGroup(ctx context.Context, messageType string, msgs []*InboxMessage, pctx *ProcessingContext) {
	desc, ok := s.registry.lookup(messageType)
	if !ok || desc.invokeBatch == nil {
		reason := fmt.Sprintf("no handler registered for message type %q", messageType)
		for _, m := range msgs {
			pctx.DispatchFailure(m, reason)
		}
		return
	}

	outcomes := s.executeBatchWithTimeout(ctx, len(msgs), func(cctx context.Context) []outcome {
		return desc.invokeBatch(cctx, msgs)
	})

	for i, m := range msgs {
		o := outcomes[i]
		if o.dispatchFailure {
			pctx.DispatchFailure(m, o.reason)
		} else {
			pctx.Classify(m, o.result, o.reason)
		}
	}
}
