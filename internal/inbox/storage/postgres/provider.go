// Package postgres implements the inbox storage contract against
// PostgreSQL. Grounded on internal/outbox/repository_postgres.go's
// fmt.Sprintf table-interpolation style and scanItems helper, generalized
// from a single-poller UPDATE-by-status loop to SELECT ... FOR UPDATE SKIP
// LOCKED capture safe under concurrent workers.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"go.inboxmq.dev/internal/common/repository"
	"go.inboxmq.dev/internal/inbox"
	"go.inboxmq.dev/internal/inbox/storage"
)

type inboxConfig struct {
	fifo          bool
	dedupEnabled  bool
	dedupInterval time.Duration
}

// Provider implements inbox.StorageProvider against a shared set of tables,
// each row scoped by an inbox_name column so one *sql.DB serves every inbox
// in the process.
type Provider struct {
	db    *sql.DB
	clock inbox.Clock
	retry storage.RetryConfig

	mu      sync.RWMutex
	configs map[string]inboxConfig
}

func New(db *sql.DB, clock inbox.Clock) *Provider {
	if clock == nil {
		clock = inbox.SystemClock{}
	}
	return &Provider{db: db, clock: clock, retry: storage.DefaultRetryConfig(), configs: make(map[string]inboxConfig)}
}

func (p *Provider) Configure(opts inbox.Options) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[opts.InboxName] = inboxConfig{
		fifo:          opts.IsFIFO(),
		dedupEnabled:  opts.EnableDeduplication,
		dedupInterval: opts.DeduplicationInterval,
	}
}

func (p *Provider) configFor(inboxName string) inboxConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.configs[inboxName]
}

// Migrate creates the tables and indexes this provider needs, idempotently.
func (p *Provider) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS inbox_messages (
			id TEXT PRIMARY KEY,
			inbox_name TEXT NOT NULL,
			message_type TEXT NOT NULL,
			payload BYTEA NOT NULL,
			group_id TEXT NOT NULL DEFAULT '',
			collapse_key TEXT NOT NULL DEFAULT '',
			deduplication_id TEXT NOT NULL DEFAULT '',
			attempts_count INT NOT NULL DEFAULT 0,
			received_at TIMESTAMPTZ NOT NULL,
			captured_at TIMESTAMPTZ,
			captured_by TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inbox_messages_pending ON inbox_messages (inbox_name, captured_at, received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_inbox_messages_collapse ON inbox_messages (inbox_name, collapse_key) WHERE collapse_key <> ''`,
		`CREATE TABLE IF NOT EXISTS inbox_dedup_records (
			inbox_name TEXT NOT NULL,
			deduplication_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (inbox_name, deduplication_id)
		)`,
		`CREATE TABLE IF NOT EXISTS inbox_group_locks (
			inbox_name TEXT NOT NULL,
			group_id TEXT NOT NULL,
			locked_at TIMESTAMPTZ,
			locked_by TEXT,
			PRIMARY KEY (inbox_name, group_id)
		)`,
		`CREATE TABLE IF NOT EXISTS inbox_dead_letters (
			id TEXT NOT NULL,
			inbox_name TEXT NOT NULL,
			message_type TEXT NOT NULL,
			payload BYTEA NOT NULL,
			group_id TEXT NOT NULL DEFAULT '',
			collapse_key TEXT NOT NULL DEFAULT '',
			deduplication_id TEXT NOT NULL DEFAULT '',
			attempts_count INT NOT NULL DEFAULT 0,
			received_at TIMESTAMPTZ NOT NULL,
			failure_reason TEXT NOT NULL,
			moved_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inbox_dead_letters_inbox ON inbox_dead_letters (inbox_name, moved_at)`,
	}
	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("inbox postgres migrate: %w", err)
		}
	}
	return nil
}

func (p *Provider) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting writeOne run
// inside or outside an explicit transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Provider) Write(ctx context.Context, msg *inbox.InboxMessage) error {
	return repository.InstrumentVoid(ctx, "inbox_messages", "write", func() error {
		return storage.Retry(ctx, p.retry, classify, "write", func() error {
			return p.writeOne(ctx, p.db, msg)
		})
	})
}

func (p *Provider) WriteBatch(ctx context.Context, msgs []*inbox.InboxMessage) error {
	return repository.InstrumentVoid(ctx, "inbox_messages", "write_batch", func() error {
		return storage.Retry(ctx, p.retry, classify, "write_batch", func() error {
			if len(msgs) == 0 {
				return nil
			}
			tx, err := p.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin write batch: %w", err)
			}
			defer tx.Rollback()

			for _, m := range msgs {
				if err := p.writeOne(ctx, tx, m); err != nil {
					return err
				}
			}
			return tx.Commit()
		})
	})
}

func (p *Provider) writeOne(ctx context.Context, tx execer, msg *inbox.InboxMessage) error {
	cfg := p.configFor(msg.InboxName)

	if cfg.dedupEnabled && msg.DeduplicationID != "" {
		var createdAt time.Time
		err := tx.QueryRowContext(ctx, `SELECT created_at FROM inbox_dedup_records WHERE inbox_name=$1 AND deduplication_id=$2`,
			msg.InboxName, msg.DeduplicationID).Scan(&createdAt)
		switch {
		case err == nil:
			if p.clock.Now().Sub(createdAt) < cfg.dedupInterval {
				return nil
			}
		case err == sql.ErrNoRows:
		default:
			return fmt.Errorf("dedup check: %w", err)
		}
	}

	if msg.CollapseKey != "" {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM inbox_messages WHERE inbox_name=$1 AND collapse_key=$2 AND captured_at IS NULL`,
			msg.InboxName, msg.CollapseKey); err != nil {
			return fmt.Errorf("collapse delete: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO inbox_messages (id, inbox_name, message_type, payload, group_id, collapse_key, deduplication_id, attempts_count, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.InboxName, msg.MessageType, msg.Payload, msg.GroupID, msg.CollapseKey, msg.DeduplicationID, msg.AttemptsCount, msg.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if cfg.dedupEnabled && msg.DeduplicationID != "" {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO inbox_dedup_records (inbox_name, deduplication_id, created_at)
			VALUES ($1,$2,$3)
			ON CONFLICT (inbox_name, deduplication_id) DO UPDATE SET created_at = EXCLUDED.created_at
		`, msg.InboxName, msg.DeduplicationID, p.clock.Now())
		if err != nil {
			return fmt.Errorf("record dedup: %w", err)
		}
	}
	return nil
}

func (p *Provider) ReadAndCapture(ctx context.Context, inboxName, workerID string, batchSize int, maxProcessingTime time.Duration) ([]*inbox.InboxMessage, error) {
	return repository.Instrument(ctx, "inbox_messages", "read_and_capture", func() ([]*inbox.InboxMessage, error) {
		var out []*inbox.InboxMessage
		err := storage.Retry(ctx, p.retry, classify, "read_and_capture", func() error {
			cfg := p.configFor(inboxName)
			now := p.clock.Now()
			cutoff := now.Add(-maxProcessingTime)

			var err error
			if !cfg.fifo {
				out, err = p.captureFlat(ctx, inboxName, workerID, batchSize, now, cutoff)
			} else {
				out, err = p.captureFIFO(ctx, inboxName, workerID, batchSize, now, cutoff)
			}
			return err
		})
		return out, err
	})
}

func (p *Provider) captureFlat(ctx context.Context, inboxName, workerID string, batchSize int, now, cutoff time.Time) ([]*inbox.InboxMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
		WITH candidates AS (
			SELECT id FROM inbox_messages
			WHERE inbox_name = $1 AND (captured_at IS NULL OR captured_at < $2)
			ORDER BY received_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		UPDATE inbox_messages m
		SET captured_at = $4, captured_by = $5
		FROM candidates c
		WHERE m.id = c.id
		RETURNING m.id, m.message_type, m.payload, m.group_id, m.collapse_key, m.deduplication_id, m.attempts_count, m.received_at, m.captured_at, m.captured_by
	`, inboxName, cutoff, batchSize, now, workerID)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows, inboxName)
}

func (p *Provider) captureFIFO(ctx context.Context, inboxName, workerID string, batchSize int, now, cutoff time.Time) ([]*inbox.InboxMessage, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin capture: %w", err)
	}
	defer tx.Rollback()

	groupRows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT group_id FROM inbox_messages
		WHERE inbox_name = $1 AND group_id <> '' AND (captured_at IS NULL OR captured_at < $2)
		ORDER BY group_id
		LIMIT $3
	`, inboxName, cutoff, batchSize)
	if err != nil {
		return nil, fmt.Errorf("candidate groups: %w", err)
	}
	var candidateGroups []string
	for groupRows.Next() {
		var g string
		if err := groupRows.Scan(&g); err != nil {
			groupRows.Close()
			return nil, fmt.Errorf("scan candidate group: %w", err)
		}
		candidateGroups = append(candidateGroups, g)
	}
	groupRows.Close()

	lockedGroups := make([]string, 0, len(candidateGroups))
	for _, g := range candidateGroups {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO inbox_group_locks (inbox_name, group_id, locked_at, locked_by)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (inbox_name, group_id) DO UPDATE
				SET locked_at = EXCLUDED.locked_at, locked_by = EXCLUDED.locked_by
				WHERE inbox_group_locks.locked_at IS NULL OR inbox_group_locks.locked_at < $5
		`, inboxName, g, now, workerID, cutoff)
		if err != nil {
			return nil, fmt.Errorf("lock group %q: %w", g, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			lockedGroups = append(lockedGroups, g)
		}
	}

	query := `
		WITH candidates AS (
			SELECT id FROM inbox_messages
			WHERE inbox_name = $1
			  AND (captured_at IS NULL OR captured_at < $2)
			  AND (group_id = '' OR group_id = ANY($3))
			ORDER BY received_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT $4
		)
		UPDATE inbox_messages m
		SET captured_at = $5, captured_by = $6
		FROM candidates c
		WHERE m.id = c.id
		RETURNING m.id, m.message_type, m.payload, m.group_id, m.collapse_key, m.deduplication_id, m.attempts_count, m.received_at, m.captured_at, m.captured_by
	`
	rows, err := tx.QueryContext(ctx, query, inboxName, cutoff, pqStringArray(lockedGroups), batchSize, now, workerID)
	if err != nil {
		return nil, fmt.Errorf("capture fifo: %w", err)
	}
	messages, err := scanMessages(rows, inboxName)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit capture: %w", err)
	}
	return messages, nil
}

func scanMessages(rows *sql.Rows, inboxName string) ([]*inbox.InboxMessage, error) {
	var out []*inbox.InboxMessage
	for rows.Next() {
		m := &inbox.InboxMessage{InboxName: inboxName}
		var capturedAt sql.NullTime
		var capturedBy sql.NullString
		if err := rows.Scan(&m.ID, &m.MessageType, &m.Payload, &m.GroupID, &m.CollapseKey, &m.DeduplicationID,
			&m.AttemptsCount, &m.ReceivedAt, &capturedAt, &capturedBy); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if capturedAt.Valid {
			t := capturedAt.Time
			m.CapturedAt = &t
		}
		if capturedBy.Valid {
			s := capturedBy.String
			m.CapturedBy = &s
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Provider) ExtendLeases(ctx context.Context, inboxName, workerID string, ids []string, newCapturedAt time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var affected int
	err := storage.Retry(ctx, p.retry, classify, "extend_leases", func() error {
		n, err := p.extendLeases(ctx, inboxName, workerID, ids, newCapturedAt)
		affected = n
		return err
	})
	return affected, err
}

func (p *Provider) extendLeases(ctx context.Context, inboxName, workerID string, ids []string, newCapturedAt time.Time) (int, error) {
	placeholders, args := idPlaceholders(ids, 3)
	args = append([]any{inboxName, newCapturedAt, workerID}, args...)

	res, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE inbox_messages
		SET captured_at = $2
		WHERE inbox_name = $1 AND captured_by = $3 AND id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("extend leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("extend leases rows affected: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, `
		UPDATE inbox_group_locks
		SET locked_at = $2
		WHERE inbox_name = $1 AND locked_by = $3 AND group_id IN (
			SELECT DISTINCT group_id FROM inbox_messages
			WHERE inbox_name = $1 AND group_id <> '' AND captured_by = $3
		)
	`, inboxName, newCapturedAt, workerID); err != nil {
		return int(n), fmt.Errorf("extend group locks: %w", err)
	}
	return int(n), nil
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
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply results: %w", err)
	}
	defer tx.Rollback()

	if len(results.ToComplete) > 0 {
		ph, args := idPlaceholders(results.ToComplete, 1)
		args = append([]any{inboxName}, args...)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM inbox_messages WHERE inbox_name=$1 AND id IN (%s)`, ph), args...); err != nil {
			return fmt.Errorf("complete: %w", err)
		}
	}
	if len(results.ToFail) > 0 {
		ph, args := idPlaceholders(results.ToFail, 1)
		args = append([]any{inboxName}, args...)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE inbox_messages SET captured_at = NULL, captured_by = NULL, attempts_count = attempts_count + 1
			WHERE inbox_name=$1 AND id IN (%s)
		`, ph), args...); err != nil {
			return fmt.Errorf("fail: %w", err)
		}
	}
	if len(results.ToRelease) > 0 {
		ph, args := idPlaceholders(results.ToRelease, 1)
		args = append([]any{inboxName}, args...)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE inbox_messages SET captured_at = NULL, captured_by = NULL
			WHERE inbox_name=$1 AND id IN (%s)
		`, ph), args...); err != nil {
			return fmt.Errorf("release: %w", err)
		}
	}
	for _, dl := range results.ToDeadLetter {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO inbox_dead_letters (id, inbox_name, message_type, payload, group_id, collapse_key, deduplication_id, attempts_count, received_at, failure_reason, moved_at)
			SELECT id, inbox_name, message_type, payload, group_id, collapse_key, deduplication_id, attempts_count, received_at, $3, $4
			FROM inbox_messages WHERE inbox_name=$1 AND id=$2
			ON CONFLICT (id) DO NOTHING
		`, inboxName, dl.ID, dl.Reason, p.clock.Now()); err != nil {
			return fmt.Errorf("dead letter insert %q: %w", dl.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM inbox_messages WHERE inbox_name=$1 AND id=$2`, inboxName, dl.ID); err != nil {
			return fmt.Errorf("dead letter delete %q: %w", dl.ID, err)
		}
	}
	return tx.Commit()
}

func (p *Provider) ReleaseGroupLocks(ctx context.Context, inboxName string, groupIDs []string) error {
	if len(groupIDs) == 0 {
		return nil
	}
	ph, args := idPlaceholders(groupIDs, 1)
	args = append([]any{inboxName}, args...)
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE inbox_group_locks SET locked_at = NULL, locked_by = NULL
		WHERE inbox_name=$1 AND group_id IN (%s)
	`, ph), args...)
	if err != nil {
		return fmt.Errorf("release group locks: %w", err)
	}
	return nil
}

func (p *Provider) ReleaseMessagesAndGroupLocks(ctx context.Context, inboxName string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release: %w", err)
	}
	defer tx.Rollback()

	ph, args := idPlaceholders(ids, 1)
	args = append([]any{inboxName}, args...)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE inbox_messages SET captured_at = NULL, captured_by = NULL
		WHERE inbox_name=$1 AND id IN (%s)
	`, ph), args...); err != nil {
		return fmt.Errorf("release messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE inbox_group_locks SET locked_at = NULL, locked_by = NULL
		WHERE inbox_name=$1 AND group_id IN (
			SELECT DISTINCT group_id FROM inbox_messages WHERE inbox_name=$1 AND group_id <> '' AND id IN (%s)
		)
	`, ph), args...); err != nil {
		return fmt.Errorf("release group locks: %w", err)
	}
	return tx.Commit()
}

func (p *Provider) ReadDeadLetters(ctx context.Context, inboxName string, max int) ([]*inbox.DeadLetterMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, message_type, payload, group_id, collapse_key, deduplication_id, attempts_count, received_at, failure_reason, moved_at
		FROM inbox_dead_letters
		WHERE inbox_name = $1
		ORDER BY moved_at ASC
		LIMIT $2
	`, inboxName, max)
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	defer rows.Close()

	var out []*inbox.DeadLetterMessage
	for rows.Next() {
		dl := &inbox.DeadLetterMessage{}
		dl.InboxName = inboxName
		if err := rows.Scan(&dl.ID, &dl.MessageType, &dl.Payload, &dl.GroupID, &dl.CollapseKey, &dl.DeduplicationID,
			&dl.AttemptsCount, &dl.ReceivedAt, &dl.FailureReason, &dl.MovedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (p *Provider) HealthMetrics(ctx context.Context, inboxName string) (inbox.HealthMetrics, error) {
	var h inbox.HealthMetrics
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE captured_at IS NULL),
			COUNT(*) FILTER (WHERE captured_at IS NOT NULL),
			MIN(received_at) FILTER (WHERE captured_at IS NULL)
		FROM inbox_messages WHERE inbox_name = $1
	`, inboxName).Scan(&h.PendingCount, &h.CapturedCount, scanNullTime(&h.OldestPendingAt))
	if err != nil {
		return h, fmt.Errorf("health metrics: %w", err)
	}
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inbox_dead_letters WHERE inbox_name=$1`, inboxName).Scan(&h.DeadLetterCount); err != nil {
		return h, fmt.Errorf("dead letter count: %w", err)
	}
	return h, nil
}

func (p *Provider) CleanupDeadLetters(ctx context.Context, inboxName string, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM inbox_dead_letters WHERE inbox_name=$1 AND moved_at <= $2`, inboxName, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup dead letters: %w", err)
	}
	return res.RowsAffected()
}

func (p *Provider) CleanupDeduplicationRecords(ctx context.Context, inboxName string, olderThan time.Time, batchSize int) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM inbox_dedup_records
		WHERE (inbox_name, deduplication_id) IN (
			SELECT inbox_name, deduplication_id FROM inbox_dedup_records
			WHERE inbox_name=$1 AND created_at <= $2
			LIMIT $3
		)
	`, inboxName, olderThan, batchSize)
	if err != nil {
		return 0, fmt.Errorf("cleanup dedup records: %w", err)
	}
	return res.RowsAffected()
}

func (p *Provider) CleanupExpiredGroupLocks(ctx context.Context, inboxName string, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE inbox_group_locks SET locked_at = NULL, locked_by = NULL
		WHERE inbox_name=$1 AND locked_at IS NOT NULL AND locked_at <= $2
	`, inboxName, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired group locks: %w", err)
	}
	return res.RowsAffected()
}

func idPlaceholders(ids []string, offset int) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1+offset)
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}

// pqStringArray renders a Go string slice as a Postgres text array literal
// for use with = ANY($n).
func pqStringArray(ss []string) string {
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func scanNullTime(dst **time.Time) any {
	return &nullTimeScanner{dst: dst}
}

// nullTimeScanner adapts a **time.Time destination to database/sql.Scanner
// for a nullable aggregate column (MIN() over an empty set is NULL).
type nullTimeScanner struct {
	dst **time.Time
}

func (s *nullTimeScanner) Scan(src any) error {
	if src == nil {
		*s.dst = nil
		return nil
	}
	t, ok := src.(time.Time)
	if !ok {
		return fmt.Errorf("inbox: unexpected type %T for nullable time column", src)
	}
	*s.dst = &t
	return nil
}
