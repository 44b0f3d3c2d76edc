//go:build integration

// Package mongo provides a MongoDB-backed inbox storage provider.
// This file contains integration tests that require Docker.
package mongo

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"go.inboxmq.dev/internal/inbox"
)

func startMongo(ctx context.Context, t *testing.T) *mongo.Database {
	t.Helper()

	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("start mongo: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { client.Disconnect(ctx) })
	return client.Database("inbox_test")
}

func TestMongoIntegration_WriteCaptureApply(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db := startMongo(ctx, t)

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

func TestMongoIntegration_CollapseKeyReplacesOlderPending(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db := startMongo(ctx, t)

	p := New(db, inbox.SystemClock{})
	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	p.Configure(inbox.Options{InboxName: "prices", Type: inbox.TypeDefault})

	stale := inbox.NewMessage("prices", "price.updated", []byte("stale"), inbox.SystemClock{})
	stale.CollapseKey = "sku-1"
	fresh := inbox.NewMessage("prices", "price.updated", []byte("fresh"), inbox.SystemClock{})
	fresh.CollapseKey = "sku-1"

	if err := p.Write(ctx, stale); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	if err := p.Write(ctx, fresh); err != nil {
		t.Fatalf("write fresh: %v", err)
	}

	captured, err := p.ReadAndCapture(ctx, "prices", "worker-1", 10, time.Minute)
	if err != nil {
		t.Fatalf("read and capture: %v", err)
	}
	if len(captured) != 1 {
		t.Fatalf("expected collapse to leave exactly 1 pending message, got %d", len(captured))
	}
	if string(captured[0].Payload) != "fresh" {
		t.Fatalf("expected the fresh message to survive collapse, got %q", captured[0].Payload)
	}
}
