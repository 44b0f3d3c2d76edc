//go:build integration

// Package postgres provides a PostgreSQL-backed inbox storage provider.
// This file contains integration tests that require Docker.
package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"go.inboxmq.dev/internal/inbox"
)

func startPostgres(ctx context.Context, t *testing.T) *sql.DB {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("inbox_test"),
		postgres.WithUsername("inbox"),
		postgres.WithPassword("inbox"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresIntegration_WriteCaptureApply(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db := startPostgres(ctx, t)

	p := New(db, inbox.SystemClock{})
	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	p.Configure(inbox.Options{InboxName: "orders", Type: inbox.TypeDefault})

	msg := inbox.NewMessage("orders", "order.created", []byte(`{"id":1}`), inbox.SystemClock{})
	if err := p.Write(ctx, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	captured, err := p.ReadAndCapture(ctx, "orders", "worker-1", 10, time.Minute)
	if err != nil {
		t.Fatalf("read and capture: %v", err)
	}
	if len(captured) != 1 {
		t.Fatalf("expected 1 captured message, got %d", len(captured))
	}
	if captured[0].CapturedBy == nil || *captured[0].CapturedBy != "worker-1" {
		t.Fatalf("expected message captured by worker-1, got %+v", captured[0].CapturedBy)
	}

	if err := p.ApplyResults(ctx, "orders", inbox.ApplyResults{ToComplete: []string{captured[0].ID}}); err != nil {
		t.Fatalf("apply results: %v", err)
	}

	remaining, err := p.ReadAndCapture(ctx, "orders", "worker-1", 10, time.Minute)
	if err != nil {
		t.Fatalf("read and capture after complete: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected inbox empty after completion, got %d", len(remaining))
	}
}

func TestPostgresIntegration_DeduplicationSuppressesWithinWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db := startPostgres(ctx, t)

	p := New(db, inbox.SystemClock{})
	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	p.Configure(inbox.Options{
		InboxName:             "orders",
		Type:                  inbox.TypeDefault,
		EnableDeduplication:   true,
		DeduplicationInterval: time.Hour,
	})

	first := inbox.NewMessage("orders", "order.created", []byte("a"), inbox.SystemClock{})
	first.DeduplicationID = "dup-1"
	second := inbox.NewMessage("orders", "order.created", []byte("b"), inbox.SystemClock{})
	second.DeduplicationID = "dup-1"

	if err := p.Write(ctx, first); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := p.Write(ctx, second); err != nil {
		t.Fatalf("write second: %v", err)
	}

	captured, err := p.ReadAndCapture(ctx, "orders", "worker-1", 10, time.Minute)
	if err != nil {
		t.Fatalf("read and capture: %v", err)
	}
	if len(captured) != 1 {
		t.Fatalf("expected dedup to suppress the second write, got %d messages", len(captured))
	}
}
