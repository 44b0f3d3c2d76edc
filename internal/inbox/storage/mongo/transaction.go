package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
)

// withTransaction runs fn inside a MongoDB session transaction so a
// dead-letter move (insert into deadLetters, delete from messages) commits
// or rolls back as one unit instead of leaving a message in both places, or
// neither, if the process dies between the two writes.
//
// Replica sets without transaction support (a lone standalone mongod) return
// an error here; the caller falls back to non-transactional writes in that
// case since inboxd's default docker-compose topology runs a single-node
// replica set, which does support transactions.
func withTransaction(ctx context.Context, client *mongo.Client, fn func(sessCtx mongo.SessionContext) error) error {
	session, err := client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	return err
}
