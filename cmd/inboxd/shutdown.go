package main

import (
	"context"
	"fmt"
	"net/http"

	"go.inboxmq.dev/internal/common/lifecycle"
	"go.inboxmq.dev/internal/inbox"
	"go.inboxmq.dev/internal/inbox/bridge"
)

// newLifecycleManager phases inboxd's shutdown the way the teacher's
// lifecycle.Manager is meant to be used: HTTP stops taking new work
// first, then the bridges stop pulling from the broker, then the inbox
// manager drains in-flight captures (Manager.Stop only stops the
// processing loops and cleanup supervisors, it does not touch the
// storage connection), and finally the storage connection itself is
// closed in the database phase.
func newLifecycleManager(server *http.Server, manager *inbox.Manager, bridges []*bridge.Bridge, closeStorage func(context.Context) error) *lifecycle.Manager {
	lm := lifecycle.NewManager()

	lm.RegisterHTTPShutdown("http", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})

	for i, b := range bridges {
		b := b
		lm.RegisterQueueShutdown(fmt.Sprintf("bridge-%d", i), func(ctx context.Context) error {
			return b.Close()
		})
	}

	lm.RegisterWorkerShutdown("inbox-manager", func(ctx context.Context) error {
		return manager.Stop(ctx)
	})

	lm.RegisterDatabaseShutdown("storage", closeStorage)

	return lm
}
