package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"go.inboxmq.dev/internal/inbox/storage"
)

// classify uses the driver's own network/timeout predicates and the
// server-reported TransientTransactionError/RetryableWriteError labels to
// tell a dropped connection or an overloaded replica set apart from a
// genuine data error like a duplicate key.
func classify(err error) storage.Kind {
	if err == nil {
		return storage.KindPermanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return storage.KindPermanent
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.KindPermanent
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return storage.KindTransient
	}

	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) && (serverErr.HasErrorLabel("TransientTransactionError") || serverErr.HasErrorLabel("RetryableWriteError")) {
		return storage.KindTransient
	}
	return storage.KindPermanent
}
