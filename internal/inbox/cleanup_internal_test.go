package inbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestCleanupSupervisor_RunsTaskOnInterval(t *testing.T) {
	var runs int32
	task := func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}

	sup := newCleanupSupervisor("inbox-a", "dedup", 5*time.Millisecond, time.Second, task, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sup.Start(ctx)
	time.Sleep(40 * time.Millisecond)
	cancel()
	sup.Stop()

	if got := atomic.LoadInt32(&runs); got < 2 {
		t.Fatalf("expected the task to run at least twice in 40ms on a 5ms interval, got %d", got)
	}
}

func TestCleanupSupervisor_RestartsAfterErrorInsteadOfExiting(t *testing.T) {
	var runs int32
	task := func(ctx context.Context) error {
		n := atomic.AddInt32(&runs, 1)
		if n == 1 {
			return errors.New("boom")
		}
		return nil
	}

	// A long steady-state interval and a short restart delay isolate the
	// error path: the second run can only happen via restartDelay, not
	// the regular interval.
	sup := newCleanupSupervisor("inbox-a", "dedup", time.Hour, 5*time.Millisecond, task, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sup.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	sup.Stop()

	if got := atomic.LoadInt32(&runs); got < 2 {
		t.Fatalf("expected the supervisor to restart the task after its error, got %d runs", got)
	}
}

func TestCleanupSupervisor_StopWaitsForLoopExit(t *testing.T) {
	task := func(ctx context.Context) error { return nil }
	sup := newCleanupSupervisor("inbox-a", "dead_letter", time.Millisecond, time.Millisecond, task, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sup.Start(ctx)
	time.Sleep(5 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the loop's context was cancelled")
	}
}

func TestCleanupSupervisor_RecoversFromPanic(t *testing.T) {
	var runs int32
	task := func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			panic("task exploded")
		}
		return nil
	}

	sup := newCleanupSupervisor("inbox-a", "group_lock", time.Hour, 5*time.Millisecond, task, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sup.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	sup.Stop()

	if got := atomic.LoadInt32(&runs); got < 2 {
		t.Fatalf("expected a panicking run to be recovered and retried, got %d runs", got)
	}
}

func TestDeadLetterCleanupTask_DeletesOlderThanLifetime(t *testing.T) {
	clock := NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	opts := DefaultOptions("jobs", TypeDefault)
	opts.EnableDeadLetter = true
	opts.DeadLetterMaxMessageLifetime = time.Hour

	provider := newFakeCleanupProvider()
	provider.deadLettersOlderThan = 3

	task, ok := DeadLetterCleanupTask(provider, "jobs", opts, clock)
	if !ok {
		t.Fatal("expected DeadLetterCleanupTask to be enabled")
	}
	if err := task(context.Background()); err != nil {
		t.Fatalf("task: %v", err)
	}
	if provider.deadLetterCutoff.IsZero() {
		t.Fatal("expected CleanupDeadLetters to be invoked with a cutoff")
	}
	wantCutoff := clock.Now().Add(-time.Hour)
	if !provider.deadLetterCutoff.Equal(wantCutoff) {
		t.Fatalf("cutoff = %v, want %v", provider.deadLetterCutoff, wantCutoff)
	}
}

func TestDeadLetterCleanupTask_DisabledWithoutCapability(t *testing.T) {
	clock := NewFakeClock(time.Now())
	opts := DefaultOptions("jobs", TypeDefault)
	opts.EnableDeadLetter = true
	opts.DeadLetterMaxMessageLifetime = time.Hour

	if _, ok := DeadLetterCleanupTask(plainProvider{}, "jobs", opts, clock); ok {
		t.Fatal("expected DeadLetterCleanupTask to be disabled for a provider without DeadLetterCleaner")
	}
}

func TestDeduplicationCleanupTask_DrainsInBatches(t *testing.T) {
	clock := NewFakeClock(time.Now())
	opts := DefaultOptions("jobs", TypeDefault)
	opts.EnableDeduplication = true
	opts.DeduplicationInterval = time.Hour
	opts.CleanupBatchSize = 2

	provider := newFakeCleanupProvider()
	provider.dedupRemaining = 5 // requires 3 batches of <=2 to exhaust

	task, ok := DeduplicationCleanupTask(provider, "jobs", opts, clock)
	if !ok {
		t.Fatal("expected DeduplicationCleanupTask to be enabled")
	}
	if err := task(context.Background()); err != nil {
		t.Fatalf("task: %v", err)
	}
	if provider.dedupCleanupCalls != 3 {
		t.Fatalf("expected 3 batches to exhaust 5 records at batch size 2, got %d calls", provider.dedupCleanupCalls)
	}
}

func TestGroupLockCleanupTask_OnlyEnabledForFIFOTypes(t *testing.T) {
	clock := NewFakeClock(time.Now())
	provider := newFakeCleanupProvider()

	defaultOpts := DefaultOptions("jobs", TypeDefault)
	if _, ok := GroupLockCleanupTask(provider, "jobs", defaultOpts, clock); ok {
		t.Fatal("expected GroupLockCleanupTask to be disabled for a non-FIFO inbox")
	}

	fifoOpts := DefaultOptions("jobs", TypeFIFO)
	task, ok := GroupLockCleanupTask(provider, "jobs", fifoOpts, clock)
	if !ok {
		t.Fatal("expected GroupLockCleanupTask to be enabled for a FIFO inbox")
	}
	if err := task(context.Background()); err != nil {
		t.Fatalf("task: %v", err)
	}
	if provider.groupLockCleanupCalls != 1 {
		t.Fatalf("expected CleanupExpiredGroupLocks to be called once, got %d", provider.groupLockCleanupCalls)
	}
}

// plainProvider satisfies StorageProvider but none of the optional cleanup
// capability interfaces, letting the disabled-without-capability tests
// exercise the type assertion in each factory.
type plainProvider struct{}

func (plainProvider) Write(ctx context.Context, msg *InboxMessage) error { return nil }
func (plainProvider) WriteBatch(ctx context.Context, msgs []*InboxMessage) error { return nil }
func (plainProvider) ReadAndCapture(ctx context.Context, inboxName, workerID string, batchSize int, maxProcessingTime time.Duration) ([]*InboxMessage, error) {
	return nil, nil
}
func (plainProvider) ExtendLeases(ctx context.Context, inboxName, workerID string, ids []string, newCapturedAt time.Time) (int, error) {
	return 0, nil
}
func (plainProvider) ApplyResults(ctx context.Context, inboxName string, results ApplyResults) error {
	return nil
}
func (plainProvider) ReadDeadLetters(ctx context.Context, inboxName string, max int) ([]*DeadLetterMessage, error) {
	return nil, nil
}
func (plainProvider) HealthMetrics(ctx context.Context, inboxName string) (HealthMetrics, error) {
	return HealthMetrics{}, nil
}

// fakeCleanupProvider embeds plainProvider and additionally implements the
// three optional cleanup capability interfaces with scriptable behavior.
type fakeCleanupProvider struct {
	plainProvider

	deadLettersOlderThan int64
	deadLetterCutoff      time.Time

	dedupRemaining    int64
	dedupCleanupCalls int

	groupLockCleanupCalls int
}

func newFakeCleanupProvider() *fakeCleanupProvider { return &fakeCleanupProvider{} }

func (p *fakeCleanupProvider) CleanupDeadLetters(ctx context.Context, inboxName string, olderThan time.Time) (int64, error) {
	p.deadLetterCutoff = olderThan
	return p.deadLettersOlderThan, nil
}

func (p *fakeCleanupProvider) CleanupDeduplicationRecords(ctx context.Context, inboxName string, olderThan time.Time, batchSize int) (int64, error) {
	p.dedupCleanupCalls++
	n := int64(batchSize)
	if p.dedupRemaining < n {
		n = p.dedupRemaining
	}
	p.dedupRemaining -= n
	return n, nil
}

func (p *fakeCleanupProvider) CleanupExpiredGroupLocks(ctx context.Context, inboxName string, olderThan time.Time) (int64, error) {
	p.groupLockCleanupCalls++
	return 0, nil
}
