package inbox

import (
	"fmt"
	"time"
)

// InboxType selects which processing strategy an inbox uses.
type InboxType string

const (
	TypeDefault     InboxType = "default"
	TypeBatched     InboxType = "batched"
	TypeFIFO        InboxType = "fifo"
	TypeFIFOBatched InboxType = "fifo_batched"
)

// DefaultDelegateCacheSize bounds the registry's dispatch-descriptor table.
// Implementation-defined per spec §9: sized for the common case of a
// handful of message types per inbox instance with generous headroom.
const DefaultDelegateCacheSize = 4096

// Options are the plain, validated-at-construction configuration for one
// inbox. Downstream components consume an immutable copy.
type Options struct {
	InboxName string
	Type      InboxType

	ReadBatchSize  int
	WriteBatchSize int

	MaxProcessingTime time.Duration
	PollingInterval   time.Duration
	ReadDelay         time.Duration
	ShutdownTimeout   time.Duration

	MaxAttempts int

	EnableDeadLetter             bool
	DeadLetterMaxMessageLifetime time.Duration

	MaxProcessingThreads int
	MaxWriteThreads      int

	EnableDeduplication    bool
	DeduplicationInterval  time.Duration

	EnableLockExtension    bool
	LockExtensionThreshold float64

	// RestartDelay is how long a cleanup-loop supervisor waits after an
	// uncaught error before restarting its task (spec §4.J).
	RestartDelay time.Duration

	// CleanupInterval is how often each of the three cleanup loops runs.
	CleanupInterval time.Duration

	// CleanupBatchSize bounds how many dedup records a durable backend
	// deletes per batch during a cleanup pass.
	CleanupBatchSize int

	// DelegateCacheSize bounds the registry's dispatch-descriptor table.
	DelegateCacheSize int
}

// DefaultOptions returns sane defaults for the given inbox name and type.
func DefaultOptions(inboxName string, t InboxType) Options {
	return Options{
		InboxName:                    inboxName,
		Type:                         t,
		ReadBatchSize:                50,
		WriteBatchSize:               100,
		MaxProcessingTime:            30 * time.Second,
		PollingInterval:              2 * time.Second,
		ReadDelay:                    0,
		ShutdownTimeout:              15 * time.Second,
		MaxAttempts:                  5,
		EnableDeadLetter:             true,
		DeadLetterMaxMessageLifetime: 30 * 24 * time.Hour,
		MaxProcessingThreads:         8,
		MaxWriteThreads:              4,
		EnableDeduplication:          false,
		DeduplicationInterval:        time.Hour,
		EnableLockExtension:          true,
		LockExtensionThreshold:       0.5,
		RestartDelay:                 5 * time.Second,
		CleanupInterval:              time.Minute,
		CleanupBatchSize:             500,
		DelegateCacheSize:            DefaultDelegateCacheSize,
	}
}

// Validate checks invariants and clamps LockExtensionThreshold into [0.1, 0.9].
func (o *Options) Validate() error {
	if o.InboxName == "" {
		return fmt.Errorf("%w: InboxName is required", ErrInvalidOptions)
	}
	switch o.Type {
	case TypeDefault, TypeBatched, TypeFIFO, TypeFIFOBatched:
	default:
		return fmt.Errorf("%w: unknown inbox type %q", ErrInvalidOptions, o.Type)
	}
	if o.ReadBatchSize <= 0 {
		return fmt.Errorf("%w: ReadBatchSize must be positive", ErrInvalidOptions)
	}
	if o.WriteBatchSize <= 0 {
		return fmt.Errorf("%w: WriteBatchSize must be positive", ErrInvalidOptions)
	}
	if o.MaxProcessingTime <= 0 {
		return fmt.Errorf("%w: MaxProcessingTime must be positive", ErrInvalidOptions)
	}
	if o.MaxAttempts <= 0 {
		return fmt.Errorf("%w: MaxAttempts must be positive", ErrInvalidOptions)
	}
	if o.MaxProcessingThreads <= 0 {
		return fmt.Errorf("%w: MaxProcessingThreads must be positive", ErrInvalidOptions)
	}
	if o.MaxWriteThreads <= 0 {
		return fmt.Errorf("%w: MaxWriteThreads must be positive", ErrInvalidOptions)
	}
	if o.DelegateCacheSize <= 0 {
		o.DelegateCacheSize = DefaultDelegateCacheSize
	}
	if o.LockExtensionThreshold < 0.1 {
		o.LockExtensionThreshold = 0.1
	} else if o.LockExtensionThreshold > 0.9 {
		o.LockExtensionThreshold = 0.9
	}
	return nil
}

// IsFIFO reports whether this inbox type requires group-lock coordination.
func (o Options) IsFIFO() bool {
	return o.Type == TypeFIFO || o.Type == TypeFIFOBatched
}
