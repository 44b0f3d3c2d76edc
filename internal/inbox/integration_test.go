package inbox_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.inboxmq.dev/internal/inbox"
	"go.inboxmq.dev/internal/inbox/storage/memory"
)

func decodeString(b []byte) (string, error) { return string(b), nil }

type recordingHandler struct {
	mu     sync.Mutex
	calls  []string
	result inbox.Result
}

func (h *recordingHandler) Handle(ctx context.Context, env inbox.Envelope[string]) inbox.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, env.Payload)
	return h.result
}

func (h *recordingHandler) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func validated(t *testing.T, opts inbox.Options) inbox.Options {
	t.Helper()
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return opts
}

func TestDefaultStrategy_SuccessCompletesMessage(t *testing.T) {
	ctx := context.Background()
	clock := inbox.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	registry := inbox.NewRegistry(10)
	h := &recordingHandler{result: inbox.Success}
	inbox.RegisterDefault[string](registry, "greet", decodeString, h)

	opts := validated(t, inbox.DefaultOptions("greetings", inbox.TypeDefault))
	provider := memory.New(clock)
	provider.Configure(opts)

	if err := provider.Write(ctx, inbox.NewMessage("greetings", "greet", []byte("hi"), clock)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	captured, err := provider.ReadAndCapture(ctx, "greetings", "worker-1", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture: %v", err)
	}
	if len(captured) != 1 {
		t.Fatalf("expected 1 captured message, got %d", len(captured))
	}

	pctx := inbox.NewProcessingContext("greetings", opts.MaxAttempts)
	strategy := inbox.NewDefaultStrategy(registry, opts, nil)
	if err := strategy.Process(ctx, "worker-1", captured, pctx); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := pctx.Apply(ctx, provider); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if got := h.recorded(); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("handler calls = %v, want [hi]", got)
	}

	health, err := provider.HealthMetrics(ctx, "greetings")
	if err != nil {
		t.Fatalf("HealthMetrics: %v", err)
	}
	if health.PendingCount != 0 || health.CapturedCount != 0 {
		t.Fatalf("expected message removed, got pending=%d captured=%d", health.PendingCount, health.CapturedCount)
	}
}

func TestDefaultStrategy_MaxAttemptsExceededDeadLetters(t *testing.T) {
	ctx := context.Background()
	clock := inbox.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	registry := inbox.NewRegistry(10)
	h := &recordingHandler{result: inbox.Failed}
	inbox.RegisterDefault[string](registry, "greet", decodeString, h)

	opts := validated(t, inbox.DefaultOptions("greetings", inbox.TypeDefault))
	opts.MaxAttempts = 2
	provider := memory.New(clock)
	provider.Configure(opts)
	strategy := inbox.NewDefaultStrategy(registry, opts, nil)

	if err := provider.Write(ctx, inbox.NewMessage("greetings", "greet", []byte("hi"), clock)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for i := 0; i < 2; i++ {
		captured, err := provider.ReadAndCapture(ctx, "greetings", "worker-1", 10, opts.MaxProcessingTime)
		if err != nil {
			t.Fatalf("ReadAndCapture[%d]: %v", i, err)
		}
		if len(captured) != 1 {
			t.Fatalf("ReadAndCapture[%d]: expected 1 message, got %d", i, len(captured))
		}
		pctx := inbox.NewProcessingContext("greetings", opts.MaxAttempts)
		if err := strategy.Process(ctx, "worker-1", captured, pctx); err != nil {
			t.Fatalf("Process[%d]: %v", i, err)
		}
		if err := pctx.Apply(ctx, provider); err != nil {
			t.Fatalf("Apply[%d]: %v", i, err)
		}
	}

	dead, err := provider.ReadDeadLetters(ctx, "greetings", 10)
	if err != nil {
		t.Fatalf("ReadDeadLetters: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead-letter record, got %d", len(dead))
	}
	if !strings.Contains(dead[0].FailureReason, "Max attempts") {
		t.Fatalf("unexpected failure reason %q", dead[0].FailureReason)
	}
}

func TestDefaultStrategy_UnknownMessageTypeDeadLetters(t *testing.T) {
	ctx := context.Background()
	clock := inbox.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	registry := inbox.NewRegistry(10)
	opts := validated(t, inbox.DefaultOptions("greetings", inbox.TypeDefault))
	provider := memory.New(clock)
	provider.Configure(opts)
	strategy := inbox.NewDefaultStrategy(registry, opts, nil)

	if err := provider.Write(ctx, inbox.NewMessage("greetings", "mystery", []byte("?"), clock)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	captured, err := provider.ReadAndCapture(ctx, "greetings", "worker-1", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture: %v", err)
	}

	pctx := inbox.NewProcessingContext("greetings", opts.MaxAttempts)
	if err := strategy.Process(ctx, "worker-1", captured, pctx); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := pctx.Apply(ctx, provider); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	dead, err := provider.ReadDeadLetters(ctx, "greetings", 10)
	if err != nil {
		t.Fatalf("ReadDeadLetters: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead-letter record, got %d", len(dead))
	}
	if !strings.Contains(dead[0].FailureReason, "no handler registered") {
		t.Fatalf("unexpected failure reason %q", dead[0].FailureReason)
	}
	if dead[0].AttemptsCount != 0 {
		t.Fatalf("expected dispatch failure not to count against attempts, got %d", dead[0].AttemptsCount)
	}
}

func TestFIFOStrategy_PreservesOrderWithinGroup(t *testing.T) {
	ctx := context.Background()
	clock := inbox.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	registry := inbox.NewRegistry(10)
	h := &recordingHandler{result: inbox.Success}
	inbox.RegisterFIFO[string](registry, "step", decodeString, h)

	opts := validated(t, inbox.DefaultOptions("orders", inbox.TypeFIFO))
	provider := memory.New(clock)
	provider.Configure(opts)
	strategy := inbox.NewFIFOStrategy(registry, opts, nil, provider)

	m1 := inbox.NewMessage("orders", "step", []byte("1"), clock)
	m1.GroupID = "order-42"
	if err := provider.Write(ctx, m1); err != nil {
		t.Fatalf("Write m1: %v", err)
	}
	clock.Advance(time.Millisecond)
	m2 := inbox.NewMessage("orders", "step", []byte("2"), clock)
	m2.GroupID = "order-42"
	if err := provider.Write(ctx, m2); err != nil {
		t.Fatalf("Write m2: %v", err)
	}

	captured, err := provider.ReadAndCapture(ctx, "orders", "worker-1", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture: %v", err)
	}
	if len(captured) != 2 {
		t.Fatalf("expected both messages in the same group lock, got %d", len(captured))
	}

	pctx := inbox.NewProcessingContext("orders", opts.MaxAttempts)
	if err := strategy.Process(ctx, "worker-1", captured, pctx); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := pctx.Apply(ctx, provider); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if got := h.recorded(); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("handler calls = %v, want [1 2]", got)
	}
}

func TestWrite_DeduplicationSuppressesWithinWindow(t *testing.T) {
	ctx := context.Background()
	clock := inbox.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	opts := validated(t, inbox.DefaultOptions("payments", inbox.TypeDefault))
	opts.EnableDeduplication = true
	opts.DeduplicationInterval = time.Hour
	provider := memory.New(clock)
	provider.Configure(opts)

	m1 := inbox.NewMessage("payments", "charge", []byte("first"), clock)
	m1.DeduplicationID = "charge-1"
	m2 := inbox.NewMessage("payments", "charge", []byte("second"), clock)
	m2.DeduplicationID = "charge-1"

	if err := provider.Write(ctx, m1); err != nil {
		t.Fatalf("Write m1: %v", err)
	}
	if err := provider.Write(ctx, m2); err != nil {
		t.Fatalf("Write m2: %v", err)
	}

	captured, err := provider.ReadAndCapture(ctx, "payments", "worker-1", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture: %v", err)
	}
	if len(captured) != 1 {
		t.Fatalf("expected duplicate suppressed, got %d messages", len(captured))
	}
	if string(captured[0].Payload) != "first" {
		t.Fatalf("expected the original message to survive, got %q", captured[0].Payload)
	}
}

func TestWrite_CollapseKeyReplacesOlderPending(t *testing.T) {
	ctx := context.Background()
	clock := inbox.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	opts := validated(t, inbox.DefaultOptions("prices", inbox.TypeDefault))
	provider := memory.New(clock)
	provider.Configure(opts)

	m1 := inbox.NewMessage("prices", "quote", []byte("stale"), clock)
	m1.CollapseKey = "sku-7"
	m2 := inbox.NewMessage("prices", "quote", []byte("fresh"), clock)
	m2.CollapseKey = "sku-7"

	if err := provider.Write(ctx, m1); err != nil {
		t.Fatalf("Write m1: %v", err)
	}
	if err := provider.Write(ctx, m2); err != nil {
		t.Fatalf("Write m2: %v", err)
	}

	captured, err := provider.ReadAndCapture(ctx, "prices", "worker-1", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture: %v", err)
	}
	if len(captured) != 1 {
		t.Fatalf("expected the older pending message collapsed away, got %d messages", len(captured))
	}
	if string(captured[0].Payload) != "fresh" {
		t.Fatalf("expected the newest message to survive collapse, got %q", captured[0].Payload)
	}
}

func TestReadAndCapture_LeaseExpiryRecoversCrashedWorker(t *testing.T) {
	ctx := context.Background()
	clock := inbox.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	opts := validated(t, inbox.DefaultOptions("jobs", inbox.TypeDefault))
	opts.MaxProcessingTime = time.Second
	provider := memory.New(clock)
	provider.Configure(opts)

	if err := provider.Write(ctx, inbox.NewMessage("jobs", "run", []byte("x"), clock)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	first, err := provider.ReadAndCapture(ctx, "jobs", "worker-a", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture(1): %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected worker-a to capture the message, got %d", len(first))
	}

	// worker-a crashes without applying results; nothing should be eligible
	// again until the lease expires.
	stillLeased, err := provider.ReadAndCapture(ctx, "jobs", "worker-b", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture(2): %v", err)
	}
	if len(stillLeased) != 0 {
		t.Fatalf("expected lease still held, got %d messages", len(stillLeased))
	}

	clock.Advance(2 * time.Second)

	recovered, err := provider.ReadAndCapture(ctx, "jobs", "worker-b", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture(3): %v", err)
	}
	if len(recovered) != 1 || recovered[0].CapturedBy == nil || *recovered[0].CapturedBy != "worker-b" {
		t.Fatalf("expected worker-b to recover the expired lease, got %+v", recovered)
	}
}

func TestLeaseExtender_RefreshesLeaseBeforeExpiry(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := inbox.NewFakeClock(start)

	opts := validated(t, inbox.DefaultOptions("jobs", inbox.TypeDefault))
	opts.MaxProcessingTime = 30 * time.Millisecond
	opts.LockExtensionThreshold = 0.5
	provider := memory.New(clock)
	provider.Configure(opts)

	msg := inbox.NewMessage("jobs", "run", []byte("x"), clock)
	if err := provider.Write(ctx, msg); err != nil {
		t.Fatalf("Write: %v", err)
	}

	captured, err := provider.ReadAndCapture(ctx, "jobs", "worker-a", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture: %v", err)
	}
	if len(captured) != 1 {
		t.Fatalf("expected 1 captured message, got %d", len(captured))
	}

	// Simulate time passing while worker-a is still processing: without
	// extension the lease taken at start would already have expired.
	clock.Advance(20 * time.Millisecond)

	ids := []string{captured[0].ID}
	extender := inbox.NewLeaseExtender(provider, "jobs", "worker-a", ids, opts, clock, nil)
	stop := extender.Start(ctx)
	time.Sleep(40 * time.Millisecond)
	stop()

	// The lease was extended to start+20ms, so it expires at +50ms. At
	// +45ms a competing worker must still be blocked...
	clock.Set(start.Add(45 * time.Millisecond))
	blocked, err := provider.ReadAndCapture(ctx, "jobs", "worker-b", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture(blocked): %v", err)
	}
	if len(blocked) != 0 {
		t.Fatalf("expected extended lease to still be held, got %d messages", len(blocked))
	}

	// ...but at +55ms the extended lease has itself expired.
	clock.Set(start.Add(55 * time.Millisecond))
	recovered, err := provider.ReadAndCapture(ctx, "jobs", "worker-b", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture(recovered): %v", err)
	}
	if len(recovered) != 1 {
		t.Fatalf("expected the extended lease to eventually expire, got %d messages", len(recovered))
	}
}

func TestFIFOGroupLock_BlocksLockedGroupButNotOtherGroups(t *testing.T) {
	ctx := context.Background()
	clock := inbox.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	opts := validated(t, inbox.DefaultOptions("orders", inbox.TypeFIFO))
	provider := memory.New(clock)
	provider.Configure(opts)

	m1 := inbox.NewMessage("orders", "step", []byte("a-1"), clock)
	m1.GroupID = "group-a"
	if err := provider.Write(ctx, m1); err != nil {
		t.Fatalf("Write m1: %v", err)
	}

	// worker-1 captures group-a's only pending message, acquiring its
	// group lock, and does not apply results yet (still "processing").
	firstCapture, err := provider.ReadAndCapture(ctx, "orders", "worker-1", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture(worker-1): %v", err)
	}
	if len(firstCapture) != 1 {
		t.Fatalf("expected worker-1 to capture 1 message, got %d", len(firstCapture))
	}

	clock.Advance(time.Millisecond)
	m2 := inbox.NewMessage("orders", "step", []byte("a-2"), clock)
	m2.GroupID = "group-a"
	if err := provider.Write(ctx, m2); err != nil {
		t.Fatalf("Write m2: %v", err)
	}
	m3 := inbox.NewMessage("orders", "step", []byte("b-1"), clock)
	m3.GroupID = "group-b"
	if err := provider.Write(ctx, m3); err != nil {
		t.Fatalf("Write m3: %v", err)
	}

	// worker-2 must skip group-a's still-locked message but may take
	// group-b's, which has no competing holder.
	secondCapture, err := provider.ReadAndCapture(ctx, "orders", "worker-2", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture(worker-2): %v", err)
	}
	if len(secondCapture) != 1 || string(secondCapture[0].Payload) != "b-1" {
		t.Fatalf("expected worker-2 to capture only group-b's message, got %+v", secondCapture)
	}

	// worker-1 finishes and releases its group lock.
	if err := provider.ReleaseGroupLocks(ctx, "orders", []string{"group-a"}); err != nil {
		t.Fatalf("ReleaseGroupLocks: %v", err)
	}

	thirdCapture, err := provider.ReadAndCapture(ctx, "orders", "worker-2", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture(after release): %v", err)
	}
	if len(thirdCapture) != 1 || string(thirdCapture[0].Payload) != "a-2" {
		t.Fatalf("expected group-a's message to become available after release, got %+v", thirdCapture)
	}
}

type batchRecorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (h *batchRecorder) HandleBatch(ctx context.Context, envs []inbox.Envelope[string]) []inbox.Result {
	h.mu.Lock()
	var payloads []string
	for _, e := range envs {
		payloads = append(payloads, e.Payload)
	}
	h.calls = append(h.calls, payloads)
	h.mu.Unlock()

	results := make([]inbox.Result, len(envs))
	for i := range results {
		results[i] = inbox.Success
	}
	return results
}

func (h *batchRecorder) recorded() [][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]string(nil), h.calls...)
}

func TestBatchedStrategy_GroupsByMessageTypeAndDispatchesOncePerType(t *testing.T) {
	ctx := context.Background()
	clock := inbox.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	registry := inbox.NewRegistry(10)
	emailHandler := &batchRecorder{}
	smsHandler := &batchRecorder{}
	inbox.RegisterBatched[string](registry, "email", decodeString, emailHandler)
	inbox.RegisterBatched[string](registry, "sms", decodeString, smsHandler)

	opts := validated(t, inbox.DefaultOptions("notifications", inbox.TypeBatched))
	provider := memory.New(clock)
	provider.Configure(opts)

	for _, m := range []string{"e1", "e2"} {
		if err := provider.Write(ctx, inbox.NewMessage("notifications", "email", []byte(m), clock)); err != nil {
			t.Fatalf("Write %s: %v", m, err)
		}
	}
	if err := provider.Write(ctx, inbox.NewMessage("notifications", "sms", []byte("s1"), clock)); err != nil {
		t.Fatalf("Write s1: %v", err)
	}

	captured, err := provider.ReadAndCapture(ctx, "notifications", "worker-1", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture: %v", err)
	}
	if len(captured) != 3 {
		t.Fatalf("expected 3 captured messages, got %d", len(captured))
	}

	pctx := inbox.NewProcessingContext("notifications", opts.MaxAttempts)
	strategy := inbox.NewBatchedStrategy(registry, opts, nil)
	if err := strategy.Process(ctx, "worker-1", captured, pctx); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := pctx.Apply(ctx, provider); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if calls := emailHandler.recorded(); len(calls) != 1 || len(calls[0]) != 2 {
		t.Fatalf("expected exactly one batched call carrying both email messages, got %v", calls)
	}
	if calls := smsHandler.recorded(); len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("expected exactly one batched call carrying the sms message, got %v", calls)
	}

	health, err := provider.HealthMetrics(ctx, "notifications")
	if err != nil {
		t.Fatalf("HealthMetrics: %v", err)
	}
	if health.PendingCount != 0 || health.CapturedCount != 0 {
		t.Fatalf("expected all messages completed, got pending=%d captured=%d", health.PendingCount, health.CapturedCount)
	}
}

type fifoBatchRecorder struct {
	mu    sync.Mutex
	calls []string // one entry per call, payloads joined for readability
}

func (h *fifoBatchRecorder) HandleBatch(ctx context.Context, groupID string, envs []inbox.Envelope[string]) []inbox.Result {
	h.mu.Lock()
	joined := ""
	for _, e := range envs {
		joined += e.Payload
	}
	h.calls = append(h.calls, joined)
	h.mu.Unlock()

	results := make([]inbox.Result, len(envs))
	for i := range results {
		results[i] = inbox.Success
	}
	return results
}

func (h *fifoBatchRecorder) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func TestFIFOBatchedStrategy_SplitsConsecutiveRunsAndReleasesGroupLock(t *testing.T) {
	ctx := context.Background()
	clock := inbox.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	registry := inbox.NewRegistry(10)
	h := &fifoBatchRecorder{}
	inbox.RegisterFIFOBatched[string](registry, "a", decodeString, h)
	inbox.RegisterFIFOBatched[string](registry, "b", decodeString, h)

	opts := validated(t, inbox.DefaultOptions("events", inbox.TypeFIFOBatched))
	provider := memory.New(clock)
	provider.Configure(opts)

	// Same group, alternating message types: a,a,b,a -> three runs.
	for _, step := range []struct{ msgType, payload string }{
		{"a", "1"}, {"a", "2"}, {"b", "3"}, {"a", "4"},
	} {
		m := inbox.NewMessage("events", step.msgType, []byte(step.payload), clock)
		m.GroupID = "group-x"
		if err := provider.Write(ctx, m); err != nil {
			t.Fatalf("Write %s: %v", step.payload, err)
		}
		clock.Advance(time.Millisecond)
	}

	captured, err := provider.ReadAndCapture(ctx, "events", "worker-1", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture: %v", err)
	}
	if len(captured) != 4 {
		t.Fatalf("expected 4 captured messages, got %d", len(captured))
	}

	pctx := inbox.NewProcessingContext("events", opts.MaxAttempts)
	strategy := inbox.NewFIFOBatchedStrategy(registry, opts, nil, provider)
	if err := strategy.Process(ctx, "worker-1", captured, pctx); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := pctx.Apply(ctx, provider); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	calls := h.recorded()
	if len(calls) != 3 {
		t.Fatalf("expected 3 handler calls (one per consecutive run), got %v", calls)
	}
	if calls[0] != "12" || calls[1] != "3" || calls[2] != "4" {
		t.Fatalf("expected runs [12 3 4] in order, got %v", calls)
	}

	// The group lock must be released once the group's runs finish, so a
	// newly-written message in the same group is immediately capturable.
	m5 := inbox.NewMessage("events", "a", []byte("5"), clock)
	m5.GroupID = "group-x"
	if err := provider.Write(ctx, m5); err != nil {
		t.Fatalf("Write m5: %v", err)
	}
	afterRelease, err := provider.ReadAndCapture(ctx, "events", "worker-2", 10, opts.MaxProcessingTime)
	if err != nil {
		t.Fatalf("ReadAndCapture(after release): %v", err)
	}
	if len(afterRelease) != 1 || string(afterRelease[0].Payload) != "5" {
		t.Fatalf("expected group lock released after processing, got %+v", afterRelease)
	}
}
