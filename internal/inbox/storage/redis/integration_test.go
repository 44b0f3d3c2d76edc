//go:build integration

// Package redis provides a Redis-backed inbox storage provider.
// This file contains integration tests that require Docker.
package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"go.inboxmq.dev/internal/inbox"
)

func startRedis(ctx context.Context, t *testing.T) *goredis.Client {
	t.Helper()

	container, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisIntegration_WriteCaptureApply(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	client := startRedis(ctx, t)

	p := New(client, inbox.SystemClock{})
	p.Configure(inbox.Options{InboxName: "orders", Type: inbox.TypeDefault, MaxProcessingTime: time.Minute})

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

func TestRedisIntegration_LeaseExpiryRecoversCrashedWorker(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	client := startRedis(ctx, t)

	p := New(client, inbox.SystemClock{})
	p.Configure(inbox.Options{InboxName: "orders", Type: inbox.TypeDefault, MaxProcessingTime: 50 * time.Millisecond})

	msg := inbox.NewMessage("orders", "order.created", []byte("a"), inbox.SystemClock{})
	if err := p.Write(ctx, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := p.ReadAndCapture(ctx, "orders", "crashed-worker", 10, 50*time.Millisecond); err != nil {
		t.Fatalf("initial capture: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	recovered, err := p.ReadAndCapture(ctx, "orders", "worker-2", 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("recovery capture: %v", err)
	}
	if len(recovered) != 1 {
		t.Fatalf("expected the expired lease to be recaptured, got %d messages", len(recovered))
	}
}
