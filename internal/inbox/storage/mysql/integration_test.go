//go:build integration

// Package mysql provides a MySQL-backed inbox storage provider.
// This file contains integration tests that require Docker.
package mysql

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"go.inboxmq.dev/internal/inbox"
)

func startMySQL(ctx context.Context, t *testing.T) *sql.DB {
	t.Helper()

	container, err := mysql.Run(ctx,
		"mysql:8.0",
		mysql.WithDatabase("inbox_test"),
		mysql.WithUsername("inbox"),
		mysql.WithPassword("inbox"),
	)
	if err != nil {
		t.Fatalf("start mysql: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMySQLIntegration_WriteCaptureApply(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db := startMySQL(ctx, t)

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

func TestMySQLIntegration_FIFOPreservesGroupOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db := startMySQL(ctx, t)

	p := New(db, inbox.SystemClock{})
	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	p.Configure(inbox.Options{InboxName: "orders", Type: inbox.TypeFIFO})

	first := inbox.NewMessage("orders", "order.created", []byte("1"), inbox.SystemClock{})
	first.GroupID = "customer-42"
	second := inbox.NewMessage("orders", "order.updated", []byte("2"), inbox.SystemClock{})
	second.GroupID = "customer-42"

	if err := p.WriteBatch(ctx, []*inbox.InboxMessage{first, second}); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	captured, err := p.ReadAndCapture(ctx, "orders", "worker-1", 10, time.Minute)
	if err != nil {
		t.Fatalf("read and capture: %v", err)
	}
	if len(captured) != 2 {
		t.Fatalf("expected both messages of the locked group in one capture, got %d", len(captured))
	}
	if captured[0].ID != first.ID {
		t.Fatalf("expected first message captured before its group-mate, got %q", captured[0].ID)
	}
}
