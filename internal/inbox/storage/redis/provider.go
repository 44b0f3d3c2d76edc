// Package redis implements the inbox storage contract against Redis.
// Grounded on internal/common/leader/redis_election.go: message and group
// locks use the same SET-NX-with-expiry acquisition and Lua check-and-act
// scripts as that file's leader lock, applied per message id / per group id
// instead of to one singleton lock key.
package redis

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go.inboxmq.dev/internal/common/repository"
	"go.inboxmq.dev/internal/inbox"
	"go.inboxmq.dev/internal/inbox/storage"
)

// refreshScript extends a lease's TTL only if the caller still owns it.
// Verbatim in spirit to redis_election.go's refresh(): get-then-conditional-
// expire as one atomic script instead of two round trips.
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

type inboxConfig struct {
	fifo              bool
	dedupEnabled      bool
	dedupInterval     time.Duration
	maxProcessingTime time.Duration
}

// Provider implements inbox.StorageProvider against a single Redis
// instance. Keys are namespaced "inbox:{inboxName}:...".
type Provider struct {
	client *redis.Client
	clock  inbox.Clock
	retry  storage.RetryConfig

	configs map[string]inboxConfig
}

func New(client *redis.Client, clock inbox.Clock) *Provider {
	if clock == nil {
		clock = inbox.SystemClock{}
	}
	return &Provider{client: client, clock: clock, retry: storage.DefaultRetryConfig(), configs: make(map[string]inboxConfig)}
}

func (p *Provider) Configure(opts inbox.Options) {
	p.configs[opts.InboxName] = inboxConfig{
		fifo:              opts.IsFIFO(),
		dedupEnabled:      opts.EnableDeduplication,
		dedupInterval:     opts.DeduplicationInterval,
		maxProcessingTime: opts.MaxProcessingTime,
	}
}

func (p *Provider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func keyPrefix(inboxName string) string { return "inbox:" + inboxName + ":" }
func msgKey(inboxName, id string) string { return keyPrefix(inboxName) + "msg:" + id }
func leaseKey(inboxName, id string) string { return keyPrefix(inboxName) + "lease:" + id }
func pendingKey(inboxName string) string { return keyPrefix(inboxName) + "pending" }
func groupLockKey(inboxName, group string) string { return keyPrefix(inboxName) + "grouplock:" + group }
func dedupKey(inboxName, dedupID string) string { return keyPrefix(inboxName) + "dedup:" + dedupID }
func collapseKey(inboxName, key string) string { return keyPrefix(inboxName) + "collapse:" + key }
func deadLettersKey(inboxName string) string { return keyPrefix(inboxName) + "deadletters" }
func deadLetterMsgKey(inboxName, id string) string { return keyPrefix(inboxName) + "dl:" + id }

func (p *Provider) Write(ctx context.Context, msg *inbox.InboxMessage) error {
	return repository.InstrumentVoid(ctx, "inbox_messages", "write", func() error {
		return storage.Retry(ctx, p.retry, classify, "write", func() error {
			return p.writeOne(ctx, msg)
		})
	})
}

func (p *Provider) WriteBatch(ctx context.Context, msgs []*inbox.InboxMessage) error {
	return repository.InstrumentVoid(ctx, "inbox_messages", "write_batch", func() error {
		return storage.Retry(ctx, p.retry, classify, "write_batch", func() error {
			for _, m := range msgs {
				if err := p.writeOne(ctx, m); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (p *Provider) writeOne(ctx context.Context, msg *inbox.InboxMessage) error {
	cfg := p.configs[msg.InboxName]

	if cfg.dedupEnabled && msg.DeduplicationID != "" {
		exists, err := p.client.Exists(ctx, dedupKey(msg.InboxName, msg.DeduplicationID)).Result()
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if exists > 0 {
			return nil
		}
	}

	if msg.CollapseKey != "" {
		prevID, err := p.client.Get(ctx, collapseKey(msg.InboxName, msg.CollapseKey)).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("collapse lookup: %w", err)
		}
		if err == nil && prevID != "" {
			stillPending, err := p.client.Exists(ctx, leaseKey(msg.InboxName, prevID)).Result()
			if err != nil {
				return fmt.Errorf("collapse lease check: %w", err)
			}
			if stillPending == 0 {
				pipe := p.client.TxPipeline()
				pipe.Del(ctx, msgKey(msg.InboxName, prevID))
				pipe.ZRem(ctx, pendingKey(msg.InboxName), prevID)
				if _, err := pipe.Exec(ctx); err != nil {
					return fmt.Errorf("collapse delete: %w", err)
				}
			}
		}
	}

	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, msgKey(msg.InboxName, msg.ID), map[string]any{
		"type":    msg.MessageType,
		"payload": base64.StdEncoding.EncodeToString(msg.Payload),
		"group":   msg.GroupID,
		"dedup":   msg.DeduplicationID,
		"attempts": msg.AttemptsCount,
		"receivedAt": msg.ReceivedAt.UnixNano(),
	})
	pipe.ZAdd(ctx, pendingKey(msg.InboxName), redis.Z{Score: float64(msg.ReceivedAt.UnixNano()), Member: msg.ID})
	if msg.CollapseKey != "" {
		pipe.Set(ctx, collapseKey(msg.InboxName, msg.CollapseKey), msg.ID, 0)
	}
	if cfg.dedupEnabled && msg.DeduplicationID != "" {
		pipe.Set(ctx, dedupKey(msg.InboxName, msg.DeduplicationID), p.clock.Now().UnixNano(), cfg.dedupInterval)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (p *Provider) ReadAndCapture(ctx context.Context, inboxName, workerID string, batchSize int, maxProcessingTime time.Duration) ([]*inbox.InboxMessage, error) {
	return repository.Instrument(ctx, "inbox_messages", "read_and_capture", func() ([]*inbox.InboxMessage, error) {
		var out []*inbox.InboxMessage
		err := storage.Retry(ctx, p.retry, classify, "read_and_capture", func() error {
			var err error
			out, err = p.readAndCapture(ctx, inboxName, workerID, batchSize, maxProcessingTime)
			return err
		})
		return out, err
	})
}

func (p *Provider) readAndCapture(ctx context.Context, inboxName, workerID string, batchSize int, maxProcessingTime time.Duration) ([]*inbox.InboxMessage, error) {
	cfg := p.configs[inboxName]

	candidates, err := p.client.ZRangeByScore(ctx, pendingKey(inboxName), &redis.ZRangeBy{
		Min: "-inf", Max: "+inf", Offset: 0, Count: int64(batchSize * 4),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("candidate scan: %w", err)
	}

	lockedGroups := make(map[string]bool)
	var captured []*inbox.InboxMessage

	for _, id := range candidates {
		if len(captured) >= batchSize {
			break
		}

		var group string
		if cfg.fifo {
			group, err = p.client.HGet(ctx, msgKey(inboxName, id), "group").Result()
			if err != nil && err != redis.Nil {
				return nil, fmt.Errorf("group lookup %q: %w", id, err)
			}
			if group != "" && !lockedGroups[group] {
				ok, err := p.client.SetNX(ctx, groupLockKey(inboxName, group), workerID, maxProcessingTime).Result()
				if err != nil {
					return nil, fmt.Errorf("group lock %q: %w", group, err)
				}
				if !ok {
					owner, err := p.client.Get(ctx, groupLockKey(inboxName, group)).Result()
					if err != nil && err != redis.Nil {
						return nil, fmt.Errorf("group lock owner %q: %w", group, err)
					}
					if owner != workerID {
						continue
					}
				}
				lockedGroups[group] = true
			}
			if group != "" && !lockedGroups[group] {
				continue
			}
		}

		leased, err := p.client.SetNX(ctx, leaseKey(inboxName, id), workerID, maxProcessingTime).Result()
		if err != nil {
			return nil, fmt.Errorf("lease %q: %w", id, err)
		}
		if !leased {
			continue
		}

		now := p.clock.Now()
		msg, err := p.loadMessage(ctx, inboxName, id, &now, &workerID)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			p.client.Del(ctx, leaseKey(inboxName, id))
			continue
		}
		captured = append(captured, msg)
	}
	return captured, nil
}

func (p *Provider) loadMessage(ctx context.Context, inboxName, id string, capturedAt *time.Time, capturedBy *string) (*inbox.InboxMessage, error) {
	fields, err := p.client.HGetAll(ctx, msgKey(inboxName, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load message %q: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	payload, err := base64.StdEncoding.DecodeString(fields["payload"])
	if err != nil {
		return nil, fmt.Errorf("decode payload %q: %w", id, err)
	}
	receivedAtNanos, _ := strconv.ParseInt(fields["receivedAt"], 10, 64)
	attempts, _ := strconv.Atoi(fields["attempts"])

	return &inbox.InboxMessage{
		ID:              id,
		InboxName:       inboxName,
		MessageType:     fields["type"],
		Payload:         payload,
		GroupID:         fields["group"],
		DeduplicationID: fields["dedup"],
		AttemptsCount:   attempts,
		ReceivedAt:      time.Unix(0, receivedAtNanos),
		CapturedAt:      capturedAt,
		CapturedBy:      capturedBy,
	}, nil
}

func (p *Provider) ExtendLeases(ctx context.Context, inboxName, workerID string, ids []string, newCapturedAt time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var affected int
	err := storage.Retry(ctx, p.retry, classify, "extend_leases", func() error {
		n, err := p.extendLeases(ctx, inboxName, workerID, ids)
		affected = n
		return err
	})
	return affected, err
}

func (p *Provider) extendLeases(ctx context.Context, inboxName, workerID string, ids []string) (int, error) {
	cfg := p.configs[inboxName]
	ttlMs := cfg.maxProcessingTime.Milliseconds()

	extended := 0
	groups := make(map[string]bool)
	for _, id := range ids {
		res, err := refreshScript.Run(ctx, p.client, []string{leaseKey(inboxName, id)}, workerID, ttlMs).Int()
		if err != nil {
			return extended, fmt.Errorf("extend lease %q: %w", id, err)
		}
		if res > 0 {
			extended++
			group, err := p.client.HGet(ctx, msgKey(inboxName, id), "group").Result()
			if err != nil && err != redis.Nil {
				return extended, fmt.Errorf("extend lease group lookup %q: %w", id, err)
			}
			if group != "" {
				groups[group] = true
			}
		}
	}
	for group := range groups {
		if _, err := refreshScript.Run(ctx, p.client, []string{groupLockKey(inboxName, group)}, workerID, ttlMs).Int(); err != nil {
			return extended, fmt.Errorf("extend group lock %q: %w", group, err)
		}
	}
	return extended, nil
}

func (p *Provider) ApplyResults(ctx context.Context, inboxName string, results inbox.ApplyResults) error {
	return repository.InstrumentVoid(ctx, "inbox_messages", "apply_results", func() error {
		return storage.Retry(ctx, p.retry, classify, "apply_results", func() error {
			return p.applyResults(ctx, inboxName, results)
		})
	})
}

func (p *Provider) applyResults(ctx context.Context, inboxName string, results inbox.ApplyResults) error {
	if results.IsEmpty() {
		return nil
	}

	pipe := p.client.TxPipeline()
	for _, id := range results.ToComplete {
		pipe.Del(ctx, leaseKey(inboxName, id))
		pipe.Del(ctx, msgKey(inboxName, id))
		pipe.ZRem(ctx, pendingKey(inboxName), id)
	}
	for _, id := range results.ToFail {
		pipe.Del(ctx, leaseKey(inboxName, id))
		pipe.HIncrBy(ctx, msgKey(inboxName, id), "attempts", 1)
	}
	for _, id := range results.ToRelease {
		pipe.Del(ctx, leaseKey(inboxName, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("apply results: %w", err)
	}

	for _, dl := range results.ToDeadLetter {
		if err := p.moveToDeadLetter(ctx, inboxName, dl); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) moveToDeadLetter(ctx context.Context, inboxName string, dl inbox.DeadLetterInput) error {
	fields, err := p.client.HGetAll(ctx, msgKey(inboxName, dl.ID)).Result()
	if err != nil {
		return fmt.Errorf("dead letter load %q: %w", dl.ID, err)
	}
	if len(fields) == 0 {
		return nil
	}
	now := p.clock.Now()

	pipe := p.client.TxPipeline()
	dlFields := map[string]any{}
	for k, v := range fields {
		dlFields[k] = v
	}
	dlFields["failureReason"] = dl.Reason
	dlFields["movedAt"] = now.UnixNano()
	pipe.HSet(ctx, deadLetterMsgKey(inboxName, dl.ID), dlFields)
	pipe.ZAdd(ctx, deadLettersKey(inboxName), redis.Z{Score: float64(now.UnixNano()), Member: dl.ID})
	pipe.Del(ctx, msgKey(inboxName, dl.ID))
	pipe.Del(ctx, leaseKey(inboxName, dl.ID))
	pipe.ZRem(ctx, pendingKey(inboxName), dl.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead letter move %q: %w", dl.ID, err)
	}
	return nil
}

func (p *Provider) ReleaseGroupLocks(ctx context.Context, inboxName string, groupIDs []string) error {
	if len(groupIDs) == 0 {
		return nil
	}
	pipe := p.client.Pipeline()
	for _, g := range groupIDs {
		pipe.Del(ctx, groupLockKey(inboxName, g))
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("release group locks: %w", err)
	}
	return nil
}

func (p *Provider) ReleaseMessagesAndGroupLocks(ctx context.Context, inboxName string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	groups := make(map[string]bool)
	pipe := p.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, leaseKey(inboxName, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("release messages: %w", err)
	}
	for _, id := range ids {
		group, err := p.client.HGet(ctx, msgKey(inboxName, id), "group").Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("release group lookup %q: %w", id, err)
		}
		if group != "" {
			groups[group] = true
		}
	}
	groupIDs := make([]string, 0, len(groups))
	for g := range groups {
		groupIDs = append(groupIDs, g)
	}
	return p.ReleaseGroupLocks(ctx, inboxName, groupIDs)
}

func (p *Provider) ReadDeadLetters(ctx context.Context, inboxName string, max int) ([]*inbox.DeadLetterMessage, error) {
	ids, err := p.client.ZRange(ctx, deadLettersKey(inboxName), 0, int64(max)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]*inbox.DeadLetterMessage, 0, len(ids))
	for _, id := range ids {
		fields, err := p.client.HGetAll(ctx, deadLetterMsgKey(inboxName, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("load dead letter %q: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}
		payload, _ := base64.StdEncoding.DecodeString(fields["payload"])
		receivedAtNanos, _ := strconv.ParseInt(fields["receivedAt"], 10, 64)
		movedAtNanos, _ := strconv.ParseInt(fields["movedAt"], 10, 64)
		attempts, _ := strconv.Atoi(fields["attempts"])
		out = append(out, &inbox.DeadLetterMessage{
			InboxMessage: inbox.InboxMessage{
				ID:              id,
				InboxName:       inboxName,
				MessageType:     fields["type"],
				Payload:         payload,
				GroupID:         fields["group"],
				DeduplicationID: fields["dedup"],
				AttemptsCount:   attempts,
				ReceivedAt:      time.Unix(0, receivedAtNanos),
			},
			FailureReason: fields["failureReason"],
			MovedAt:       time.Unix(0, movedAtNanos),
		})
	}
	return out, nil
}

// HealthMetrics walks the pending set to split captured from uncaptured
// counts; acceptable for the modest, single-instance scale this backend
// targets, since the metric is polled infrequently rather than per-message.
func (p *Provider) HealthMetrics(ctx context.Context, inboxName string) (inbox.HealthMetrics, error) {
	var h inbox.HealthMetrics

	ids, err := p.client.ZRange(ctx, pendingKey(inboxName), 0, -1).Result()
	if err != nil {
		return h, fmt.Errorf("pending scan: %w", err)
	}

	for _, id := range ids {
		exists, err := p.client.Exists(ctx, leaseKey(inboxName, id)).Result()
		if err != nil {
			return h, fmt.Errorf("lease check %q: %w", id, err)
		}
		if exists > 0 {
			h.CapturedCount++
			continue
		}
		h.PendingCount++
		if h.OldestPendingAt == nil {
			receivedAt, err := p.client.ZScore(ctx, pendingKey(inboxName), id).Result()
			if err != nil {
				return h, fmt.Errorf("oldest pending score %q: %w", id, err)
			}
			t := time.Unix(0, int64(receivedAt))
			h.OldestPendingAt = &t
		}
	}

	deadCount, err := p.client.ZCard(ctx, deadLettersKey(inboxName)).Result()
	if err != nil {
		return h, fmt.Errorf("dead letter count: %w", err)
	}
	h.DeadLetterCount = deadCount
	return h, nil
}

func (p *Provider) CleanupDeadLetters(ctx context.Context, inboxName string, olderThan time.Time) (int64, error) {
	ids, err := p.client.ZRangeByScore(ctx, deadLettersKey(inboxName), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(olderThan.UnixNano(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("cleanup scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := p.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, deadLetterMsgKey(inboxName, id))
		pipe.ZRem(ctx, deadLettersKey(inboxName), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("cleanup dead letters: %w", err)
	}
	return int64(len(ids)), nil
}

// CleanupDeduplicationRecords is a no-op: dedup keys carry their own TTL
// (cfg.dedupInterval) set at write time, so Redis expires them natively.
func (p *Provider) CleanupDeduplicationRecords(ctx context.Context, inboxName string, olderThan time.Time, batchSize int) (int64, error) {
	return 0, nil
}

// CleanupExpiredGroupLocks is a no-op for the same reason: group locks are
// SET with a PX TTL equal to MaxProcessingTime and expire on their own.
func (p *Provider) CleanupExpiredGroupLocks(ctx context.Context, inboxName string, olderThan time.Time) (int64, error) {
	return 0, nil
}
