package inbox

import (
	"context"
	"fmt"
	"sync"
)

// ProcessingContext is the per-poll-cycle façade a strategy uses to
// classify outcomes and buffer them for one atomic apply-results call.
//
// Grounded on internal/outbox/processor.go's handlePerItemFailures /
// BatchResult accumulation pattern.
type ProcessingContext struct {
	mu          sync.Mutex
	inboxName   string
	maxAttempts int

	toComplete   []string
	toFail       []string
	toRelease    []string
	toDeadLetter []DeadLetterInput
}

// NewProcessingContext creates a context for one captured batch.
func NewProcessingContext(inboxName string, maxAttempts int) *ProcessingContext {
	return &ProcessingContext{inboxName: inboxName, maxAttempts: maxAttempts}
}

// Classify buffers msg's outcome per spec §4.E. reason is only used for
// MoveToDeadLetter; pass "" to use a generic reason.
func (c *ProcessingContext) Classify(msg *InboxMessage, result Result, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch result {
	case Success:
		c.toComplete = append(c.toComplete, msg.ID)
		recordOutcome(c.inboxName, "success")
	case Retry:
		c.toRelease = append(c.toRelease, msg.ID)
		recordOutcome(c.inboxName, "retry")
	case Failed:
		if msg.AttemptsCount+1 >= c.maxAttempts {
			c.toDeadLetter = append(c.toDeadLetter, DeadLetterInput{
				ID:     msg.ID,
				Reason: fmt.Sprintf("Max attempts (%d) exceeded", c.maxAttempts),
			})
			recordOutcome(c.inboxName, "dead_letter")
		} else {
			c.toFail = append(c.toFail, msg.ID)
			recordOutcome(c.inboxName, "failed")
		}
	case MoveToDeadLetter:
		if reason == "" {
			reason = "moved to dead letter by handler"
		}
		c.toDeadLetter = append(c.toDeadLetter, DeadLetterInput{ID: msg.ID, Reason: reason})
		recordOutcome(c.inboxName, "dead_letter")
	}
}

// DispatchFailure buffers a message straight to dead letter for an unknown
// message type, missing handler, or payload deserialization failure.
// Attempts are not incremented, per spec §4.E/§7.
func (c *ProcessingContext) DispatchFailure(msg *InboxMessage, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toDeadLetter = append(c.toDeadLetter, DeadLetterInput{ID: msg.ID, Reason: reason})
	recordOutcome(c.inboxName, "dispatch_failure")
}

// FailBatch is the "handler threw" shortcut: every message in msgs is
// routed through the same Failed classification (Failed vs.
// max-attempts-exceeded). Classify ignores reason for Failed, so the
// reason passed here is not recorded.
func (c *ProcessingContext) FailBatch(msgs []*InboxMessage, reason string) {
	for _, m := range msgs {
		c.Classify(m, Failed, reason)
	}
}

// snapshot returns the buffered ApplyResults without clearing it.
func (c *ProcessingContext) snapshot() ApplyResults {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ApplyResults{
		ToComplete:   append([]string(nil), c.toComplete...),
		ToFail:       append([]string(nil), c.toFail...),
		ToRelease:    append([]string(nil), c.toRelease...),
		ToDeadLetter: append([]DeadLetterInput(nil), c.toDeadLetter...),
	}
}

// Apply invokes provider.ApplyResults exactly once with everything
// buffered so far. Empty input performs no I/O.
func (c *ProcessingContext) Apply(ctx context.Context, provider StorageProvider) error {
	results := c.snapshot()
	if results.IsEmpty() {
		return nil
	}
	return provider.ApplyResults(ctx, c.inboxName, results)
}
