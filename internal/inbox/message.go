package inbox

import (
	"time"

	"github.com/google/uuid"
)

// InboxMessage is the durable unit the inbox persists and processes.
//
// Invariant: (CapturedAt == nil) iff (CapturedBy == nil). Providers must
// never set one without the other.
type InboxMessage struct {
	ID              string
	InboxName       string
	MessageType     string
	Payload         []byte
	GroupID         string
	CollapseKey     string
	DeduplicationID string
	AttemptsCount   int
	ReceivedAt      time.Time
	CapturedAt      *time.Time
	CapturedBy      *string
}

// NewMessage builds a message with a generated id and ReceivedAt set to now.
// Callers that need idempotent producer keys should set ID themselves before
// writing instead of calling this constructor.
func NewMessage(inboxName, messageType string, payload []byte, clock Clock) *InboxMessage {
	return &InboxMessage{
		ID:          uuid.NewString(),
		InboxName:   inboxName,
		MessageType: messageType,
		Payload:     payload,
		ReceivedAt:  clock.Now(),
	}
}

// IsCaptured reports whether the message currently holds a lease.
func (m *InboxMessage) IsCaptured() bool {
	return m.CapturedAt != nil
}

// LeaseExpired reports whether the current lease, if any, is past maxProcessingTime.
func (m *InboxMessage) LeaseExpired(now time.Time, maxProcessingTime time.Duration) bool {
	if m.CapturedAt == nil {
		return true
	}
	return now.Sub(*m.CapturedAt) > maxProcessingTime
}

// DeadLetterMessage is a terminal copy of InboxMessage; it never re-enters
// the pending pool.
type DeadLetterMessage struct {
	InboxMessage
	FailureReason string
	MovedAt       time.Time
}

// DeduplicationRecord is unique on (InboxName, DeduplicationID).
type DeduplicationRecord struct {
	InboxName       string
	DeduplicationID string
	CreatedAt       time.Time
}

// GroupLock is the FIFO-mode exclusive lease over all messages sharing a
// GroupID. LockedAt == nil means free.
type GroupLock struct {
	InboxName string
	GroupID   string
	LockedAt  *time.Time
	LockedBy  string
}

// Effective reports whether the lock is currently held, given the same
// MaxProcessingTime window used for message leases.
func (l GroupLock) Effective(now time.Time, maxProcessingTime time.Duration) bool {
	if l.LockedAt == nil {
		return false
	}
	return now.Sub(*l.LockedAt) <= maxProcessingTime
}

// HealthMetrics summarizes an inbox's current state for operators.
type HealthMetrics struct {
	PendingCount    int64
	CapturedCount   int64
	DeadLetterCount int64
	OldestPendingAt *time.Time
}
