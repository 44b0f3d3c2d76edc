// Package memory implements the inbox storage contract in-process, for
// tests and local development. Grounded on internal/router/pool/pool.go's
// in-process, mutex-guarded state pattern: a single coarse lock approximates
// the atomicity a durable backend gets from a transaction or Lua script.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.inboxmq.dev/internal/inbox"
)

type entry struct {
	msg *inbox.InboxMessage
	seq int64
}

type inboxConfig struct {
	fifo              bool
	dedupEnabled      bool
	dedupInterval     time.Duration
	deadLetterEnabled bool
}

// Provider is a volatile StorageProvider backed by in-process maps.
type Provider struct {
	mu sync.Mutex

	clock inbox.Clock
	seq   int64

	configs     map[string]inboxConfig
	messages    map[string]map[string]*entry
	deadLetters map[string][]*inbox.DeadLetterMessage
	dedup       map[string]map[string]time.Time
	groupLocks  map[string]map[string]*inbox.GroupLock
}

func New(clock inbox.Clock) *Provider {
	if clock == nil {
		clock = inbox.SystemClock{}
	}
	return &Provider{
		clock:       clock,
		configs:     make(map[string]inboxConfig),
		messages:    make(map[string]map[string]*entry),
		deadLetters: make(map[string][]*inbox.DeadLetterMessage),
		dedup:       make(map[string]map[string]time.Time),
		groupLocks:  make(map[string]map[string]*inbox.GroupLock),
	}
}

// Configure registers the per-inbox knobs this provider needs but that
// aren't part of a single storage call: FIFO grouping, dedup window, and
// whether dead-letter is enabled.
func (p *Provider) Configure(opts inbox.Options) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[opts.InboxName] = inboxConfig{
		fifo:              opts.IsFIFO(),
		dedupEnabled:      opts.EnableDeduplication,
		dedupInterval:     opts.DeduplicationInterval,
		deadLetterEnabled: opts.EnableDeadLetter,
	}
}

func (p *Provider) ensureLocked(inboxName string) {
	if p.messages[inboxName] == nil {
		p.messages[inboxName] = make(map[string]*entry)
	}
	if p.dedup[inboxName] == nil {
		p.dedup[inboxName] = make(map[string]time.Time)
	}
	if p.groupLocks[inboxName] == nil {
		p.groupLocks[inboxName] = make(map[string]*inbox.GroupLock)
	}
}

func cloneMessage(m *inbox.InboxMessage) *inbox.InboxMessage {
	cp := *m
	if m.CapturedAt != nil {
		t := *m.CapturedAt
		cp.CapturedAt = &t
	}
	if m.CapturedBy != nil {
		s := *m.CapturedBy
		cp.CapturedBy = &s
	}
	cp.Payload = append([]byte(nil), m.Payload...)
	return &cp
}

func (p *Provider) Write(ctx context.Context, msg *inbox.InboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked(msg)
}

func (p *Provider) WriteBatch(ctx context.Context, msgs []*inbox.InboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if err := p.writeLocked(m); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) writeLocked(msg *inbox.InboxMessage) error {
	p.ensureLocked(msg.InboxName)
	cfg := p.configs[msg.InboxName]

	if _, exists := p.messages[msg.InboxName][msg.ID]; exists {
		return nil
	}

	if msg.DeduplicationID != "" && cfg.dedupEnabled {
		if createdAt, ok := p.dedup[msg.InboxName][msg.DeduplicationID]; ok {
			if p.clock.Now().Sub(createdAt) < cfg.dedupInterval {
				return nil
			}
		}
	}

	if msg.CollapseKey != "" {
		for id, e := range p.messages[msg.InboxName] {
			if e.msg.CollapseKey == msg.CollapseKey && e.msg.CapturedAt == nil {
				delete(p.messages[msg.InboxName], id)
			}
		}
	}

	p.seq++
	p.messages[msg.InboxName][msg.ID] = &entry{msg: cloneMessage(msg), seq: p.seq}

	if msg.DeduplicationID != "" && cfg.dedupEnabled {
		p.dedup[msg.InboxName][msg.DeduplicationID] = p.clock.Now()
	}
	return nil
}

func (p *Provider) groupAvailableLocked(inboxName, groupID string, now time.Time, maxProcessingTime time.Duration) bool {
	lock, ok := p.groupLocks[inboxName][groupID]
	if !ok {
		return true
	}
	return !lock.Effective(now, maxProcessingTime)
}

func (p *Provider) ReadAndCapture(ctx context.Context, inboxName, workerID string, batchSize int, maxProcessingTime time.Duration) ([]*inbox.InboxMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLocked(inboxName)
	cfg := p.configs[inboxName]
	now := p.clock.Now()

	eligible := make([]*entry, 0, len(p.messages[inboxName]))
	for _, e := range p.messages[inboxName] {
		if e.msg.LeaseExpired(now, maxProcessingTime) {
			eligible = append(eligible, e)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].msg.ReceivedAt.Equal(eligible[j].msg.ReceivedAt) {
			return eligible[i].msg.ReceivedAt.Before(eligible[j].msg.ReceivedAt)
		}
		return eligible[i].seq < eligible[j].seq
	})

	lockedThisCall := make(map[string]bool)
	captured := make([]*inbox.InboxMessage, 0, batchSize)
	for _, e := range eligible {
		if len(captured) >= batchSize {
			break
		}
		if cfg.fifo && e.msg.GroupID != "" {
			if !lockedThisCall[e.msg.GroupID] {
				if !p.groupAvailableLocked(inboxName, e.msg.GroupID, now, maxProcessingTime) {
					continue
				}
				t := now
				p.groupLocks[inboxName][e.msg.GroupID] = &inbox.GroupLock{
					InboxName: inboxName,
					GroupID:   e.msg.GroupID,
					LockedAt:  &t,
					LockedBy:  workerID,
				}
				lockedThisCall[e.msg.GroupID] = true
			}
		}

		t := now
		by := workerID
		e.msg.CapturedAt = &t
		e.msg.CapturedBy = &by
		captured = append(captured, cloneMessage(e.msg))
	}
	return captured, nil
}

func (p *Provider) ExtendLeases(ctx context.Context, inboxName, workerID string, ids []string, newCapturedAt time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLocked(inboxName)

	count := 0
	touchedGroups := make(map[string]bool)
	for _, id := range ids {
		e, ok := p.messages[inboxName][id]
		if !ok || e.msg.CapturedBy == nil || *e.msg.CapturedBy != workerID {
			continue
		}
		t := newCapturedAt
		e.msg.CapturedAt = &t
		count++
		if e.msg.GroupID != "" {
			touchedGroups[e.msg.GroupID] = true
		}
	}
	for g := range touchedGroups {
		if lock, ok := p.groupLocks[inboxName][g]; ok && lock.LockedBy == workerID {
			t := newCapturedAt
			lock.LockedAt = &t
		}
	}
	return count, nil
}

func (p *Provider) ApplyResults(ctx context.Context, inboxName string, results inbox.ApplyResults) error {
	if results.IsEmpty() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLocked(inboxName)
	cfg := p.configs[inboxName]
	now := p.clock.Now()

	for _, id := range results.ToComplete {
		delete(p.messages[inboxName], id)
	}
	for _, id := range results.ToFail {
		if e, ok := p.messages[inboxName][id]; ok {
			e.msg.CapturedAt = nil
			e.msg.CapturedBy = nil
			e.msg.AttemptsCount++
		}
	}
	for _, id := range results.ToRelease {
		if e, ok := p.messages[inboxName][id]; ok {
			e.msg.CapturedAt = nil
			e.msg.CapturedBy = nil
		}
	}
	for _, dl := range results.ToDeadLetter {
		e, ok := p.messages[inboxName][dl.ID]
		if !ok {
			continue
		}
		if cfg.deadLetterEnabled {
			p.deadLetters[inboxName] = append(p.deadLetters[inboxName], &inbox.DeadLetterMessage{
				InboxMessage:  *cloneMessage(e.msg),
				FailureReason: dl.Reason,
				MovedAt:       now,
			})
		}
		delete(p.messages[inboxName], dl.ID)
	}
	return nil
}

func (p *Provider) ReleaseGroupLocks(ctx context.Context, inboxName string, groupIDs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLocked(inboxName)
	for _, g := range groupIDs {
		if lock, ok := p.groupLocks[inboxName][g]; ok {
			lock.LockedAt = nil
			lock.LockedBy = ""
		}
	}
	return nil
}

func (p *Provider) ReleaseMessagesAndGroupLocks(ctx context.Context, inboxName string, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLocked(inboxName)

	groups := make(map[string]bool)
	for _, id := range ids {
		if e, ok := p.messages[inboxName][id]; ok {
			e.msg.CapturedAt = nil
			e.msg.CapturedBy = nil
			if e.msg.GroupID != "" {
				groups[e.msg.GroupID] = true
			}
		}
	}
	for g := range groups {
		if lock, ok := p.groupLocks[inboxName][g]; ok {
			lock.LockedAt = nil
			lock.LockedBy = ""
		}
	}
	return nil
}

func (p *Provider) ReadDeadLetters(ctx context.Context, inboxName string, max int) ([]*inbox.DeadLetterMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := append([]*inbox.DeadLetterMessage(nil), p.deadLetters[inboxName]...)
	sort.Slice(list, func(i, j int) bool { return list[i].MovedAt.Before(list[j].MovedAt) })
	if max > 0 && len(list) > max {
		list = list[:max]
	}
	return list, nil
}

func (p *Provider) HealthMetrics(ctx context.Context, inboxName string) (inbox.HealthMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var h inbox.HealthMetrics
	var oldest *time.Time
	for _, e := range p.messages[inboxName] {
		if e.msg.CapturedAt == nil {
			h.PendingCount++
			if oldest == nil || e.msg.ReceivedAt.Before(*oldest) {
				t := e.msg.ReceivedAt
				oldest = &t
			}
		} else {
			h.CapturedCount++
		}
	}
	h.DeadLetterCount = int64(len(p.deadLetters[inboxName]))
	h.OldestPendingAt = oldest
	return h, nil
}

func (p *Provider) CleanupDeadLetters(ctx context.Context, inboxName string, olderThan time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var kept []*inbox.DeadLetterMessage
	var removed int64
	for _, dl := range p.deadLetters[inboxName] {
		if dl.MovedAt.After(olderThan) {
			kept = append(kept, dl)
		} else {
			removed++
		}
	}
	p.deadLetters[inboxName] = kept
	return removed, nil
}

func (p *Provider) CleanupDeduplicationRecords(ctx context.Context, inboxName string, olderThan time.Time, batchSize int) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed int64
	for id, createdAt := range p.dedup[inboxName] {
		if batchSize > 0 && removed >= int64(batchSize) {
			break
		}
		if !createdAt.After(olderThan) {
			delete(p.dedup[inboxName], id)
			removed++
		}
	}
	return removed, nil
}

func (p *Provider) CleanupExpiredGroupLocks(ctx context.Context, inboxName string, olderThan time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed int64
	for _, lock := range p.groupLocks[inboxName] {
		if lock.LockedAt != nil && !lock.LockedAt.After(olderThan) {
			lock.LockedAt = nil
			lock.LockedBy = ""
			removed++
		}
	}
	return removed, nil
}

// Migrate is a no-op: this provider has no schema to prepare.
func (p *Provider) Migrate(ctx context.Context) error { return nil }

// Ping always succeeds: there is no connection to check.
func (p *Provider) Ping(ctx context.Context) error { return nil }
