package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultStrategy dispatches each captured message to its handler
// independently, up to MaxProcessingThreads in parallel.
//
// Grounded on internal/outbox/processor.go's MessageGroupProcessor loop,
// generalized from a per-group worker to a flat worker pool over the
// whole batch (Default mode has no group concept).
type DefaultStrategy struct {
	base
}

func NewDefaultStrategy(registry *Registry, opts Options, logger *slog.Logger) *DefaultStrategy {
	return &DefaultStrategy{base: newBase(registry, opts, logger)}
}

func (s *DefaultStrategy) Process(ctx context.Context, workerID string, messages []*InboxMessage, pctx *ProcessingContext) error {
	sem := make(chan struct{}, s.opts.MaxProcessingThreads)
	var wg sync.WaitGroup

	for _, m := range messages {
		m := m
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.dispatchOne(ctx, m, pctx)
		}()
	}
	wg.Wait()
	return nil
}

func (s *DefaultStrategy) dispatchOne(ctx context.Context, m *InboxMessage, pctx *ProcessingContext) {
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
