package redis

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"

	"go.inboxmq.dev/internal/inbox/storage"
)

// transientReplyPrefixes are server error replies
// (https://redis.io/docs/latest/develop/reference/protocol-spec/#errors)
// that describe the server's own temporary state rather than a bad
// command: still loading the dataset from disk, a read-only replica during
// failover, or a cluster in the middle of a slot migration.
var transientReplyPrefixes = []string{"LOADING", "READONLY", "CLUSTERDOWN", "TRYAGAIN", "MASTERDOWN"}

func classify(err error) storage.Kind {
	if err == nil {
		return storage.KindPermanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return storage.KindPermanent
	}
	if errors.Is(err, redis.Nil) {
		return storage.KindPermanent
	}
	if errors.Is(err, redis.ErrClosed) {
		return storage.KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return storage.KindTransient
	}

	msg := err.Error()
	if strings.Contains(msg, "pool timeout") {
		return storage.KindTransient
	}
	for _, prefix := range transientReplyPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return storage.KindTransient
		}
	}
	return storage.KindPermanent
}
