// Package mysql implements the inbox storage contract against MySQL 8.0+.
// Grounded on internal/outbox/repository_mysql.go's fmt.Sprintf
// table-interpolation style, generalized from a single-poller UPDATE-by-
// status loop to a two-step SELECT ... FOR UPDATE SKIP LOCKED then UPDATE
// capture, since MySQL lacks Postgres's UPDATE ... FROM join form.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

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
// each row scoped by an inbox_name column.
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

func (p *Provider) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS inbox_messages (
			id VARCHAR(64) PRIMARY KEY,
			inbox_name VARCHAR(255) NOT NULL,
			message_type VARCHAR(255) NOT NULL,
			payload LONGBLOB NOT NULL,
			group_id VARCHAR(255) NOT NULL DEFAULT '',
			collapse_key VARCHAR(255) NOT NULL DEFAULT '',
			deduplication_id VARCHAR(255) NOT NULL DEFAULT '',
			attempts_count INT NOT NULL DEFAULT 0,
			received_at DATETIME(3) NOT NULL,
			captured_at DATETIME(3) NULL,
			captured_by VARCHAR(255) NULL,
			INDEX idx_inbox_messages_pending (inbox_name, captured_at, received_at),
			INDEX idx_inbox_messages_collapse (inbox_name, collapse_key)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS inbox_dedup_records (
			inbox_name VARCHAR(255) NOT NULL,
			deduplication_id VARCHAR(255) NOT NULL,
			created_at DATETIME(3) NOT NULL,
			PRIMARY KEY (inbox_name, deduplication_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS inbox_group_locks (
			inbox_name VARCHAR(255) NOT NULL,
			group_id VARCHAR(255) NOT NULL,
			locked_at DATETIME(3) NULL,
			locked_by VARCHAR(255) NULL,
			PRIMARY KEY (inbox_name, group_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS inbox_dead_letters (
			id VARCHAR(64) PRIMARY KEY,
			inbox_name VARCHAR(255) NOT NULL,
			message_type VARCHAR(255) NOT NULL,
			payload LONGBLOB NOT NULL,
			group_id VARCHAR(255) NOT NULL DEFAULT '',
			collapse_key VARCHAR(255) NOT NULL DEFAULT '',
			deduplication_id VARCHAR(255) NOT NULL DEFAULT '',
			attempts_count INT NOT NULL DEFAULT 0,
			received_at DATETIME(3) NOT NULL,
			failure_reason TEXT NOT NULL,
			moved_at DATETIME(3) NOT NULL,
			INDEX idx_inbox_dead_letters_inbox (inbox_name, moved_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}
	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "Duplicate key name") {
				continue
			}
			return fmt.Errorf("inbox mysql migrate: %w", err)
		}
	}
	return nil
}

func (p *Provider) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

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
		err := tx.QueryRowContext(ctx, `SELECT created_at FROM inbox_dedup_records WHERE inbox_name=? AND deduplication_id=?`,
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
			`DELETE FROM inbox_messages WHERE inbox_name=? AND collapse_key=? AND captured_at IS NULL`,
			msg.InboxName, msg.CollapseKey); err != nil {
			return fmt.Errorf("collapse delete: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT IGNORE INTO inbox_messages (id, inbox_name, message_type, payload, group_id, collapse_key, deduplication_id, attempts_count, received_at)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, msg.ID, msg.InboxName, msg.MessageType, msg.Payload, msg.GroupID, msg.CollapseKey, msg.DeduplicationID, msg.AttemptsCount, msg.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if cfg.dedupEnabled && msg.DeduplicationID != "" {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO inbox_dedup_records (inbox_name, deduplication_id, created_at)
			VALUES (?,?,?)
			ON DUPLICATE KEY UPDATE created_at = VALUES(created_at)
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
			var err error
			out, err = p.readAndCapture(ctx, inboxName, workerID, batchSize, maxProcessingTime)
			return err
		})
		return out, err
	})
}

func (p *Provider) readAndCapture(ctx context.Context, inboxName, workerID string, batchSize int, maxProcessingTime time.Duration) ([]*inbox.InboxMessage, error) {
	cfg := p.configFor(inboxName)
	now := p.clock.Now()
	cutoff := now.Add(-maxProcessingTime)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin capture: %w", err)
	}
	defer tx.Rollback()

	var ids []string
	if cfg.fifo {
		ids, err = p.selectFIFOCandidates(ctx, tx, inboxName, workerID, batchSize, now, cutoff)
	} else {
		ids, err = p.selectFlatCandidates(ctx, tx, inboxName, batchSize, cutoff)
	}
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	ph, args := idPlaceholders(ids)
	args = append([]any{now, workerID}, args...)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE inbox_messages SET captured_at=?, captured_by=? WHERE id IN (%s)
	`, ph), args...); err != nil {
		return nil, fmt.Errorf("capture update: %w", err)
	}

	ph2, args2 := idPlaceholders(ids)
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, message_type, payload, group_id, collapse_key, deduplication_id, attempts_count, received_at, captured_at, captured_by
		FROM inbox_messages WHERE id IN (%s)
		ORDER BY received_at, id
	`, ph2), args2...)
	if err != nil {
		return nil, fmt.Errorf("capture reselect: %w", err)
	}
	messages, err := scanMessages(rows, inboxName)
	rows.Close()
	if err != nil {
		return nil, err
	}
	return messages, tx.Commit()
}

func (p *Provider) selectFlatCandidates(ctx context.Context, tx *sql.Tx, inboxName string, batchSize int, cutoff time.Time) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM inbox_messages
		WHERE inbox_name=? AND (captured_at IS NULL OR captured_at < ?)
		ORDER BY received_at, id
		LIMIT ? FOR UPDATE SKIP LOCKED
	`, inboxName, cutoff, batchSize)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (p *Provider) selectFIFOCandidates(ctx context.Context, tx *sql.Tx, inboxName, workerID string, batchSize int, now, cutoff time.Time) ([]string, error) {
	groupRows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT group_id FROM inbox_messages
		WHERE inbox_name=? AND group_id <> '' AND (captured_at IS NULL OR captured_at < ?)
		ORDER BY group_id
		LIMIT ?
	`, inboxName, cutoff, batchSize)
	if err != nil {
		return nil, fmt.Errorf("candidate groups: %w", err)
	}
	candidateGroups, err := scanIDs(groupRows)
	groupRows.Close()
	if err != nil {
		return nil, err
	}

	lockedGroups := make([]string, 0, len(candidateGroups))
	for _, g := range candidateGroups {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO inbox_group_locks (inbox_name, group_id, locked_at, locked_by)
			VALUES (?,?,?,?)
			ON DUPLICATE KEY UPDATE
				locked_by = IF(locked_at IS NULL OR locked_at < ?, VALUES(locked_by), locked_by),
				locked_at = IF(locked_at IS NULL OR locked_at < ?, VALUES(locked_at), locked_at)
		`, inboxName, g, now, workerID, cutoff, cutoff); err != nil {
			return nil, fmt.Errorf("lock group %q: %w", g, err)
		}
		var confirmedBy string
		if err := tx.QueryRowContext(ctx, `SELECT locked_by FROM inbox_group_locks WHERE inbox_name=? AND group_id=?`, inboxName, g).Scan(&confirmedBy); err != nil {
			return nil, fmt.Errorf("confirm lock %q: %w", g, err)
		}
		if confirmedBy == workerID {
			lockedGroups = append(lockedGroups, g)
		}
	}

	if len(lockedGroups) == 0 {
		return p.selectUngroupedCandidates(ctx, tx, inboxName, batchSize, cutoff)
	}

	ph, _ := idPlaceholders(lockedGroups)
	args := append([]any{inboxName, cutoff}, toAnySlice(lockedGroups)...)
	args = append(args, batchSize)

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT id FROM inbox_messages
		WHERE inbox_name=? AND (captured_at IS NULL OR captured_at < ?) AND (group_id = '' OR group_id IN (%s))
		ORDER BY received_at, id
		LIMIT ? FOR UPDATE SKIP LOCKED
	`, ph), args...)
	if err != nil {
		return nil, fmt.Errorf("select fifo candidates: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (p *Provider) selectUngroupedCandidates(ctx context.Context, tx *sql.Tx, inboxName string, batchSize int, cutoff time.Time) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM inbox_messages
		WHERE inbox_name=? AND group_id = '' AND (captured_at IS NULL OR captured_at < ?)
		ORDER BY received_at, id
		LIMIT ? FOR UPDATE SKIP LOCKED
	`, inboxName, cutoff, batchSize)
	if err != nil {
		return nil, fmt.Errorf("select ungrouped candidates: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
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
	ph, args := idPlaceholders(ids)
	args = append([]any{newCapturedAt, inboxName, workerID}, args...)

	res, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE inbox_messages SET captured_at=? WHERE inbox_name=? AND captured_by=? AND id IN (%s)
	`, ph), args...)
	if err != nil {
		return 0, fmt.Errorf("extend leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("extend leases rows affected: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, `
		UPDATE inbox_group_locks SET locked_at=?
		WHERE inbox_name=? AND locked_by=? AND group_id IN (
			SELECT group_id FROM (
				SELECT DISTINCT group_id FROM inbox_messages WHERE inbox_name=? AND group_id <> '' AND captured_by=?
			) g
		)
	`, newCapturedAt, inboxName, workerID, inboxName, workerID); err != nil {
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
		ph, args := idPlaceholders(results.ToComplete)
		args = append([]any{inboxName}, args...)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM inbox_messages WHERE inbox_name=? AND id IN (%s)`, ph), args...); err != nil {
			return fmt.Errorf("complete: %w", err)
		}
	}
	if len(results.ToFail) > 0 {
		ph, args := idPlaceholders(results.ToFail)
		args = append([]any{inboxName}, args...)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE inbox_messages SET captured_at=NULL, captured_by=NULL, attempts_count = attempts_count + 1
			WHERE inbox_name=? AND id IN (%s)
		`, ph), args...); err != nil {
			return fmt.Errorf("fail: %w", err)
		}
	}
	if len(results.ToRelease) > 0 {
		ph, args := idPlaceholders(results.ToRelease)
		args = append([]any{inboxName}, args...)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE inbox_messages SET captured_at=NULL, captured_by=NULL
			WHERE inbox_name=? AND id IN (%s)
		`, ph), args...); err != nil {
			return fmt.Errorf("release: %w", err)
		}
	}
	for _, dl := range results.ToDeadLetter {
		if _, err := tx.ExecContext(ctx, `
			INSERT IGNORE INTO inbox_dead_letters (id, inbox_name, message_type, payload, group_id, collapse_key, deduplication_id, attempts_count, received_at, failure_reason, moved_at)
			SELECT id, inbox_name, message_type, payload, group_id, collapse_key, deduplication_id, attempts_count, received_at, ?, ?
			FROM inbox_messages WHERE inbox_name=? AND id=?
		`, dl.Reason, p.clock.Now(), inboxName, dl.ID); err != nil {
			return fmt.Errorf("dead letter insert %q: %w", dl.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM inbox_messages WHERE inbox_name=? AND id=?`, inboxName, dl.ID); err != nil {
			return fmt.Errorf("dead letter delete %q: %w", dl.ID, err)
		}
	}
	return tx.Commit()
}

func (p *Provider) ReleaseGroupLocks(ctx context.Context, inboxName string, groupIDs []string) error {
	if len(groupIDs) == 0 {
		return nil
	}
	ph, args := idPlaceholders(groupIDs)
	args = append([]any{inboxName}, args...)
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE inbox_group_locks SET locked_at=NULL, locked_by=NULL WHERE inbox_name=? AND group_id IN (%s)
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

	ph, args := idPlaceholders(ids)
	args = append([]any{inboxName}, args...)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE inbox_messages SET captured_at=NULL, captured_by=NULL WHERE inbox_name=? AND id IN (%s)
	`, ph), args...); err != nil {
		return fmt.Errorf("release messages: %w", err)
	}
	ph2, args2 := idPlaceholders(ids)
	args2 = append([]any{inboxName, inboxName}, args2...)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE inbox_group_locks SET locked_at=NULL, locked_by=NULL
		WHERE inbox_name=? AND group_id IN (
			SELECT group_id FROM (
				SELECT DISTINCT group_id FROM inbox_messages WHERE inbox_name=? AND group_id <> '' AND id IN (%s)
			) g
		)
	`, ph2), args2...); err != nil {
		return fmt.Errorf("release group locks: %w", err)
	}
	return tx.Commit()
}

func (p *Provider) ReadDeadLetters(ctx context.Context, inboxName string, max int) ([]*inbox.DeadLetterMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, message_type, payload, group_id, collapse_key, deduplication_id, attempts_count, received_at, failure_reason, moved_at
		FROM inbox_dead_letters WHERE inbox_name=? ORDER BY moved_at ASC LIMIT ?
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
	var oldest sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN captured_at IS NULL THEN 1 END),
			COUNT(CASE WHEN captured_at IS NOT NULL THEN 1 END),
			MIN(CASE WHEN captured_at IS NULL THEN received_at END)
		FROM inbox_messages WHERE inbox_name=?
	`, inboxName).Scan(&h.PendingCount, &h.CapturedCount, &oldest)
	if err != nil {
		return h, fmt.Errorf("health metrics: %w", err)
	}
	if oldest.Valid {
		h.OldestPendingAt = &oldest.Time
	}
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inbox_dead_letters WHERE inbox_name=?`, inboxName).Scan(&h.DeadLetterCount); err != nil {
		return h, fmt.Errorf("dead letter count: %w", err)
	}
	return h, nil
}

func (p *Provider) CleanupDeadLetters(ctx context.Context, inboxName string, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM inbox_dead_letters WHERE inbox_name=? AND moved_at <= ?`, inboxName, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup dead letters: %w", err)
	}
	return res.RowsAffected()
}

func (p *Provider) CleanupDeduplicationRecords(ctx context.Context, inboxName string, olderThan time.Time, batchSize int) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM inbox_dedup_records WHERE inbox_name=? AND created_at <= ? LIMIT ?
	`, inboxName, olderThan, batchSize)
	if err != nil {
		return 0, fmt.Errorf("cleanup dedup records: %w", err)
	}
	return res.RowsAffected()
}

func (p *Provider) CleanupExpiredGroupLocks(ctx context.Context, inboxName string, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE inbox_group_locks SET locked_at=NULL, locked_by=NULL
		WHERE inbox_name=? AND locked_at IS NOT NULL AND locked_at <= ?
	`, inboxName, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired group locks: %w", err)
	}
	return res.RowsAffected()
}

func idPlaceholders(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}
