package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// indexDefinition names one index on one collection, mirroring how the
// driver's own IndexModel is built from Keys+Options.
type indexDefinition struct {
	collection string
	keys       bson.D
	options    *options.IndexOptions
}

// indexInitializer creates every index Migrate depends on, tolerating a
// pre-existing index of the same name or key pattern so Migrate stays safe
// to run on every startup rather than only the first one.
type indexInitializer struct {
	db *mongo.Database
}

func newIndexInitializer(db *mongo.Database) *indexInitializer {
	return &indexInitializer{db: db}
}

func (i *indexInitializer) run(ctx context.Context, defs []indexDefinition) error {
	for _, def := range defs {
		model := mongo.IndexModel{Keys: def.keys, Options: def.options}
		if _, err := i.db.Collection(def.collection).Indexes().CreateOne(ctx, model); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				slog.Warn("index already exists", "collection", def.collection)
				continue
			}
			return fmt.Errorf("create index on %s: %w", def.collection, err)
		}
	}
	return nil
}

// inboxIndexDefinitions lists every index the four inbox collections need:
// capture ordering and collapse/group lookups on messages, cleanup sweeps on
// dead letters, a uniqueness guarantee on dedup records, and the group lock
// upsert's filter on group locks.
func inboxIndexDefinitions(messages, deadLetters, dedup, groupLocks string) []indexDefinition {
	return []indexDefinition{
		{collection: messages, keys: bson.D{{Key: "inboxName", Value: 1}, {Key: "capturedAt", Value: 1}, {Key: "receivedAt", Value: 1}}},
		{collection: messages, keys: bson.D{{Key: "inboxName", Value: 1}, {Key: "collapseKey", Value: 1}}},
		{collection: messages, keys: bson.D{{Key: "inboxName", Value: 1}, {Key: "groupId", Value: 1}}},

		{collection: deadLetters, keys: bson.D{{Key: "inboxName", Value: 1}, {Key: "movedAt", Value: 1}}},

		{
			collection: dedup,
			keys:       bson.D{{Key: "inboxName", Value: 1}, {Key: "deduplicationId", Value: 1}},
			options:    options.Index().SetUnique(true),
		},
		{collection: dedup, keys: bson.D{{Key: "inboxName", Value: 1}, {Key: "createdAt", Value: 1}}},

		{
			collection: groupLocks,
			keys:       bson.D{{Key: "inboxName", Value: 1}, {Key: "groupId", Value: 1}},
			options:    options.Index().SetUnique(true),
		},
	}
}
