package inbox

import (
	"context"
	"time"
)

// DeadLetterInput is one entry of an ApplyResults.ToDeadLetter batch.
type DeadLetterInput struct {
	ID     string
	Reason string
}

// ApplyResults is the batched, atomic outcome of one processed capture.
// This is the hot path: a backend must apply all four lists as one atomic
// unit, never as four separate calls (spec §9 "Batching").
type ApplyResults struct {
	ToComplete   []string
	ToFail       []string
	ToRelease    []string
	ToDeadLetter []DeadLetterInput
}

// IsEmpty reports whether applying this batch would be a no-op.
func (r ApplyResults) IsEmpty() bool {
	return len(r.ToComplete) == 0 && len(r.ToFail) == 0 && len(r.ToRelease) == 0 && len(r.ToDeadLetter) == 0
}

// StorageProvider is the abstract contract every backend (durable SQL,
// Redis, in-memory) satisfies. Every operation accepts a cancellation
// signal. Durable backends classify transient failures internally and
// retry with backoff; non-transient failures surface immediately.
//
// Grounded on internal/outbox/repository.go's Repository interface, with
// FetchPending/MarkAsInProgress/MarkWithStatus generalized into the
// capture/apply-results shape the inbox spec requires.
type StorageProvider interface {
	// Write inserts one message, honoring dedup and collapse-key policy.
	Write(ctx context.Context, msg *InboxMessage) error

	// WriteBatch inserts many messages in one atomic unit per backend,
	// honoring dedup and collapse-key policy per distinct key.
	WriteBatch(ctx context.Context, msgs []*InboxMessage) error

	// ReadAndCapture selects up to batchSize eligible messages and durably
	// records CapturedAt=now, CapturedBy=workerID on each, atomically
	// acquiring any FIFO group locks needed along the way.
	ReadAndCapture(ctx context.Context, inboxName, workerID string, batchSize int, maxProcessingTime time.Duration) ([]*InboxMessage, error)

	// ExtendLeases refreshes CapturedAt (and, for FIFO groups held by
	// workerID, LockedAt) for the given message ids, returning the number
	// of message leases actually refreshed. Wrong-worker or completed
	// messages are ignored, not an error.
	ExtendLeases(ctx context.Context, inboxName, workerID string, ids []string, newCapturedAt time.Time) (int, error)

	// ApplyResults applies a batch's outcomes as one atomic unit. Empty
	// input is a no-op performing no I/O.
	ApplyResults(ctx context.Context, inboxName string, results ApplyResults) error

	// ReadDeadLetters returns up to max dead-letter records ordered by
	// MovedAt ascending. Returns empty when dead-letter is disabled.
	ReadDeadLetters(ctx context.Context, inboxName string, max int) ([]*DeadLetterMessage, error)

	// HealthMetrics reports the current pending/captured/dead-letter
	// counts and the oldest pending message's ReceivedAt, if any.
	HealthMetrics(ctx context.Context, inboxName string) (HealthMetrics, error)
}

// GroupLockReleaser is an optional capability for FIFO-mode backends.
// Strategies check for it each time a group finishes and, when the
// provider doesn't implement it, release nothing beyond what ApplyResults
// does — mirroring the teacher's ReceiptHandleUpdatable
// capability-check pattern in internal/queue/queue.go.
type GroupLockReleaser interface {
	// ReleaseGroupLocks marks the listed group locks free. Idempotent:
	// unknown groups are ignored.
	ReleaseGroupLocks(ctx context.Context, inboxName string, groupIDs []string) error

	// ReleaseMessagesAndGroupLocks combines ToRelease semantics for the
	// listed message ids with ReleaseGroupLocks for their distinct
	// GroupIDs, in one atomic unit. Used during graceful shutdown.
	ReleaseMessagesAndGroupLocks(ctx context.Context, inboxName string, ids []string) error
}

// DeadLetterCleaner is an optional capability backing the dead-letter
// cleanup loop.
type DeadLetterCleaner interface {
	CleanupDeadLetters(ctx context.Context, inboxName string, olderThan time.Time) (int64, error)
}

// DeduplicationCleaner is an optional capability backing the dedup cleanup
// loop. The SQL backends and the memory backend delete at most batchSize
// records per call, and the cleanup task calls again until a pass removes
// fewer; the mongo backend ignores batchSize and deletes every match in
// one call.
type DeduplicationCleaner interface {
	CleanupDeduplicationRecords(ctx context.Context, inboxName string, olderThan time.Time, batchSize int) (int64, error)
}

// GroupLockCleaner is an optional capability backing the group-lock
// cleanup loop (FIFO modes, durable backends only).
type GroupLockCleaner interface {
	CleanupExpiredGroupLocks(ctx context.Context, inboxName string, olderThan time.Time) (int64, error)
}

// Migrator is an optional capability for idempotent schema/keyspace
// preparation.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// HealthPinger is an optional capability for liveness/readiness probes
// against the backend connection itself, independent of HealthMetrics.
type HealthPinger interface {
	Ping(ctx context.Context) error
}
