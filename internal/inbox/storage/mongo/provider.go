// Package mongo implements the inbox storage contract against MongoDB.
// Grounded on internal/common/leader/election.go's tryAcquire: a
// FindOneAndUpdate-with-upsert filtered on "free or expired or already
// mine", generalized from a single leader lock document to per-message
// capture and per-group locks.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.inboxmq.dev/internal/common/repository"
	"go.inboxmq.dev/internal/inbox"
	"go.inboxmq.dev/internal/inbox/storage"
)

type messageDoc struct {
	ID              string     `bson:"_id"`
	InboxName       string     `bson:"inboxName"`
	MessageType     string     `bson:"messageType"`
	Payload         []byte     `bson:"payload"`
	GroupID         string     `bson:"groupId"`
	CollapseKey     string     `bson:"collapseKey"`
	DeduplicationID string     `bson:"deduplicationId"`
	AttemptsCount   int        `bson:"attemptsCount"`
	ReceivedAt      time.Time  `bson:"receivedAt"`
	CapturedAt      *time.Time `bson:"capturedAt"`
	CapturedBy      *string    `bson:"capturedBy"`
}

func (d messageDoc) toMessage() *inbox.InboxMessage {
	return &inbox.InboxMessage{
		ID:              d.ID,
		InboxName:       d.InboxName,
		MessageType:     d.MessageType,
		Payload:         d.Payload,
		GroupID:         d.GroupID,
		CollapseKey:     d.CollapseKey,
		DeduplicationID: d.DeduplicationID,
		AttemptsCount:   d.AttemptsCount,
		ReceivedAt:      d.ReceivedAt,
		CapturedAt:      d.CapturedAt,
		CapturedBy:      d.CapturedBy,
	}
}

type deadLetterDoc struct {
	messageDoc    `bson:",inline"`
	FailureReason string    `bson:"failureReason"`
	MovedAt       time.Time `bson:"movedAt"`
}

type dedupDoc struct {
	InboxName       string    `bson:"inboxName"`
	DeduplicationID string    `bson:"deduplicationId"`
	CreatedAt       time.Time `bson:"createdAt"`
}

type groupLockDoc struct {
	InboxName string     `bson:"inboxName"`
	GroupID   string     `bson:"groupId"`
	LockedAt  *time.Time `bson:"lockedAt"`
	LockedBy  string     `bson:"lockedBy"`
}

type inboxConfig struct {
	fifo          bool
	dedupEnabled  bool
	dedupInterval time.Duration
}

// Provider implements inbox.StorageProvider against four collections:
// messages, dead letters, dedup records, and group locks.
type Provider struct {
	db    *mongo.Database
	clock inbox.Clock
	retry storage.RetryConfig

	messages    *mongo.Collection
	deadLetters *mongo.Collection
	dedup       *mongo.Collection
	groupLocks  *mongo.Collection

	configs map[string]inboxConfig
}

func New(db *mongo.Database, clock inbox.Clock) *Provider {
	if clock == nil {
		clock = inbox.SystemClock{}
	}
	return &Provider{
		db:          db,
		clock:       clock,
		retry:       storage.DefaultRetryConfig(),
		messages:    db.Collection("inbox_messages"),
		deadLetters: db.Collection("inbox_dead_letters"),
		dedup:       db.Collection("inbox_dedup_records"),
		groupLocks:  db.Collection("inbox_group_locks"),
		configs:     make(map[string]inboxConfig),
	}
}

func (p *Provider) Configure(opts inbox.Options) {
	p.configs[opts.InboxName] = inboxConfig{
		fifo:          opts.IsFIFO(),
		dedupEnabled:  opts.EnableDeduplication,
		dedupInterval: opts.DeduplicationInterval,
	}
}

// Migrate creates the indexes this provider depends on for capture order,
// collapse/dedup lookups, and the dedup/group-lock uniqueness guarantees.
func (p *Provider) Migrate(ctx context.Context) error {
	defs := inboxIndexDefinitions(p.messages.Name(), p.deadLetters.Name(), p.dedup.Name(), p.groupLocks.Name())
	return newIndexInitializer(p.db).run(ctx, defs)
}

func (p *Provider) Ping(ctx context.Context) error {
	return p.db.Client().Ping(ctx, nil)
}

func (p *Provider) Write(ctx context.Context, msg *inbox.InboxMessage) error {
	return repository.InstrumentVoid(ctx, "inbox_messages", "write", func() error {
		return storage.Retry(ctx, p.retry, classify, "write", func() error {
			return p.writeOne(ctx, msg)
		})
	})
}

func (p *Provider) WriteBatch(ctx context.Context, msgs []*inbox.InboxMessage) error {
	return repository.InstrumentVoid(ctx, "inbox_messages", "write_batch", func() error {
		return storage.Retry(ctx, p.retry, classify, "write_batch", func() error {
			for _, m := range msgs {
				if err := p.writeOne(ctx, m); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (p *Provider) writeOne(ctx context.Context, msg *inbox.InboxMessage) error {
	cfg := p.configs[msg.InboxName]

	if cfg.dedupEnabled && msg.DeduplicationID != "" {
		var rec dedupDoc
		err := p.dedup.FindOne(ctx, bson.M{"inboxName": msg.InboxName, "deduplicationId": msg.DeduplicationID}).Decode(&rec)
		if err != nil && err != mongo.ErrNoDocuments {
			return fmt.Errorf("dedup check: %w", err)
		}
		if err == nil && p.clock.Now().Sub(rec.CreatedAt) < cfg.dedupInterval {
			return nil
		}
	}

	if msg.CollapseKey != "" {
		if _, err := p.messages.DeleteMany(ctx, bson.M{
			"inboxName":   msg.InboxName,
			"collapseKey": msg.CollapseKey,
			"capturedAt":  nil,
		}); err != nil {
			return fmt.Errorf("collapse delete: %w", err)
		}
	}

	doc := messageDoc{
		ID:              msg.ID,
		InboxName:       msg.InboxName,
		MessageType:     msg.MessageType,
		Payload:         msg.Payload,
		GroupID:         msg.GroupID,
		CollapseKey:     msg.CollapseKey,
		DeduplicationID: msg.DeduplicationID,
		AttemptsCount:   msg.AttemptsCount,
		ReceivedAt:      msg.ReceivedAt,
	}
	if _, err := p.messages.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("insert message: %w", err)
	}

	if cfg.dedupEnabled && msg.DeduplicationID != "" {
		_, err := p.dedup.UpdateOne(ctx,
			bson.M{"inboxName": msg.InboxName, "deduplicationId": msg.DeduplicationID},
			bson.M{"$set": bson.M{"createdAt": p.clock.Now()}},
			options.Update().SetUpsert(true))
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
	cfg := p.configs[inboxName]
	now := p.clock.Now()
	cutoff := now.Add(-maxProcessingTime)

	var lockedGroups map[string]bool
	if cfg.fifo {
		var err error
		lockedGroups, err = p.lockEligibleGroups(ctx, inboxName, workerID, batchSize, now, cutoff)
		if err != nil {
			return nil, err
		}
	}

	var captured []*inbox.InboxMessage
	for len(captured) < batchSize {
		filter := bson.M{
			"inboxName": inboxName,
			"$or":       []bson.M{{"capturedAt": nil}, {"capturedAt": bson.M{"$lt": cutoff}}},
		}
		if cfg.fifo {
			allowedGroups := make([]string, 0, len(lockedGroups))
			for g := range lockedGroups {
				allowedGroups = append(allowedGroups, g)
			}
			filter["$and"] = []bson.M{{"$or": []bson.M{{"groupId": ""}, {"groupId": bson.M{"$in": allowedGroups}}}}}
		}

		update := bson.M{"$set": bson.M{"capturedAt": now, "capturedBy": workerID}}
		opts := options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "receivedAt", Value: 1}}).
			SetReturnDocument(options.After)

		var doc messageDoc
		err := p.messages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("capture: %w", err)
		}
		captured = append(captured, doc.toMessage())
	}
	return captured, nil
}

// lockEligibleGroups tries to acquire up to batchSize distinct group locks
// that are currently free or expired, the same "free, expired, or already
// mine" filter the leader election uses for its single lock document.
func (p *Provider) lockEligibleGroups(ctx context.Context, inboxName, workerID string, batchSize int, now, cutoff time.Time) (map[string]bool, error) {
	groupIDs, err := p.messages.Distinct(ctx, "groupId", bson.M{
		"inboxName": inboxName,
		"groupId":   bson.M{"$ne": ""},
		"$or":       []bson.M{{"capturedAt": nil}, {"capturedAt": bson.M{"$lt": cutoff}}},
	})
	if err != nil {
		return nil, fmt.Errorf("candidate groups: %w", err)
	}

	locked := make(map[string]bool)
	for _, raw := range groupIDs {
		if len(locked) >= batchSize {
			break
		}
		groupID, _ := raw.(string)
		filter := bson.M{
			"inboxName": inboxName,
			"groupId":   groupID,
			"$or": []bson.M{
				{"lockedAt": nil},
				{"lockedAt": bson.M{"$lt": cutoff}},
				{"lockedBy": workerID},
			},
		}
		update := bson.M{"$set": bson.M{"inboxName": inboxName, "groupId": groupID, "lockedAt": now, "lockedBy": workerID}}
		opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

		var lock groupLockDoc
		err := p.groupLocks.FindOneAndUpdate(ctx, filter, update, opts).Decode(&lock)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return nil, fmt.Errorf("lock group %q: %w", groupID, err)
		}
		if lock.LockedBy == workerID {
			locked[groupID] = true
		}
	}
	return locked, nil
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
	res, err := p.messages.UpdateMany(ctx,
		bson.M{"inboxName": inboxName, "capturedBy": workerID, "_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"capturedAt": newCapturedAt}})
	if err != nil {
		return 0, fmt.Errorf("extend leases: %w", err)
	}

	groupIDs, err := p.messages.Distinct(ctx, "groupId", bson.M{
		"inboxName": inboxName, "capturedBy": workerID, "groupId": bson.M{"$ne": ""},
	})
	if err != nil {
		return int(res.ModifiedCount), fmt.Errorf("extend group locks lookup: %w", err)
	}
	if len(groupIDs) > 0 {
		if _, err := p.groupLocks.UpdateMany(ctx,
			bson.M{"inboxName": inboxName, "lockedBy": workerID, "groupId": bson.M{"$in": groupIDs}},
			bson.M{"$set": bson.M{"lockedAt": newCapturedAt}}); err != nil {
			return int(res.ModifiedCount), fmt.Errorf("extend group locks: %w", err)
		}
	}
	return int(res.ModifiedCount), nil
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

	if len(results.ToComplete) > 0 {
		if _, err := p.messages.DeleteMany(ctx, bson.M{"inboxName": inboxName, "_id": bson.M{"$in": results.ToComplete}}); err != nil {
			return fmt.Errorf("complete: %w", err)
		}
	}
	if len(results.ToFail) > 0 {
		if _, err := p.messages.UpdateMany(ctx,
			bson.M{"inboxName": inboxName, "_id": bson.M{"$in": results.ToFail}},
			bson.M{"$set": bson.M{"capturedAt": nil, "capturedBy": nil}, "$inc": bson.M{"attemptsCount": 1}}); err != nil {
			return fmt.Errorf("fail: %w", err)
		}
	}
	if len(results.ToRelease) > 0 {
		if _, err := p.messages.UpdateMany(ctx,
			bson.M{"inboxName": inboxName, "_id": bson.M{"$in": results.ToRelease}},
			bson.M{"$set": bson.M{"capturedAt": nil, "capturedBy": nil}}); err != nil {
			return fmt.Errorf("release: %w", err)
		}
	}
	for _, dl := range results.ToDeadLetter {
		var doc messageDoc
		err := p.messages.FindOne(ctx, bson.M{"inboxName": inboxName, "_id": dl.ID}).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			continue
		}
		if err != nil {
			return fmt.Errorf("dead letter lookup %q: %w", dl.ID, err)
		}
		if err := p.moveToDeadLetter(ctx, inboxName, doc, dl.Reason); err != nil {
			return err
		}
	}
	return nil
}

// moveToDeadLetter inserts the dead-letter copy and deletes the live message
// inside a session transaction, so a crash between the two writes never
// leaves the message in both collections or in neither.
func (p *Provider) moveToDeadLetter(ctx context.Context, inboxName string, doc messageDoc, reason string) error {
	dlDoc := deadLetterDoc{messageDoc: doc, FailureReason: reason, MovedAt: p.clock.Now()}
	txErr := withTransaction(ctx, p.db.Client(), func(sessCtx mongo.SessionContext) error {
		if _, err := p.deadLetters.InsertOne(sessCtx, dlDoc); err != nil && !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("dead letter insert %q: %w", doc.ID, err)
		}
		if _, err := p.messages.DeleteOne(sessCtx, bson.M{"inboxName": inboxName, "_id": doc.ID}); err != nil {
			return fmt.Errorf("dead letter delete %q: %w", doc.ID, err)
		}
		return nil
	})
	if txErr == nil {
		return nil
	}

	// Standalone mongod (no replica set) can't run transactions; fall back
	// to the non-atomic sequence rather than failing dead-lettering outright.
	if _, err := p.deadLetters.InsertOne(ctx, dlDoc); err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("dead letter insert %q: %w", doc.ID, err)
	}
	if _, err := p.messages.DeleteOne(ctx, bson.M{"inboxName": inboxName, "_id": doc.ID}); err != nil {
		return fmt.Errorf("dead letter delete %q: %w", doc.ID, err)
	}
	return nil
}

func (p *Provider) ReleaseGroupLocks(ctx context.Context, inboxName string, groupIDs []string) error {
	if len(groupIDs) == 0 {
		return nil
	}
	_, err := p.groupLocks.UpdateMany(ctx,
		bson.M{"inboxName": inboxName, "groupId": bson.M{"$in": groupIDs}},
		bson.M{"$set": bson.M{"lockedAt": nil, "lockedBy": ""}})
	if err != nil {
		return fmt.Errorf("release group locks: %w", err)
	}
	return nil
}

func (p *Provider) ReleaseMessagesAndGroupLocks(ctx context.Context, inboxName string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	groupIDs, err := p.messages.Distinct(ctx, "groupId", bson.M{"inboxName": inboxName, "_id": bson.M{"$in": ids}, "groupId": bson.M{"$ne": ""}})
	if err != nil {
		return fmt.Errorf("release lookup groups: %w", err)
	}
	if _, err := p.messages.UpdateMany(ctx,
		bson.M{"inboxName": inboxName, "_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"capturedAt": nil, "capturedBy": nil}}); err != nil {
		return fmt.Errorf("release messages: %w", err)
	}
	if len(groupIDs) > 0 {
		if _, err := p.groupLocks.UpdateMany(ctx,
			bson.M{"inboxName": inboxName, "groupId": bson.M{"$in": groupIDs}},
			bson.M{"$set": bson.M{"lockedAt": nil, "lockedBy": ""}}); err != nil {
			return fmt.Errorf("release group locks: %w", err)
		}
	}
	return nil
}

func (p *Provider) ReadDeadLetters(ctx context.Context, inboxName string, max int) ([]*inbox.DeadLetterMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "movedAt", Value: 1}})
	if max > 0 {
		opts.SetLimit(int64(max))
	}
	cur, err := p.deadLetters.Find(ctx, bson.M{"inboxName": inboxName}, opts)
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	defer cur.Close(ctx)

	var out []*inbox.DeadLetterMessage
	for cur.Next(ctx) {
		var doc deadLetterDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, &inbox.DeadLetterMessage{
			InboxMessage:  *doc.messageDoc.toMessage(),
			FailureReason: doc.FailureReason,
			MovedAt:       doc.MovedAt,
		})
	}
	return out, cur.Err()
}

func (p *Provider) HealthMetrics(ctx context.Context, inboxName string) (inbox.HealthMetrics, error) {
	var h inbox.HealthMetrics

	pending, err := p.messages.CountDocuments(ctx, bson.M{"inboxName": inboxName, "capturedAt": nil})
	if err != nil {
		return h, fmt.Errorf("pending count: %w", err)
	}
	h.PendingCount = pending

	captured, err := p.messages.CountDocuments(ctx, bson.M{"inboxName": inboxName, "capturedAt": bson.M{"$ne": nil}})
	if err != nil {
		return h, fmt.Errorf("captured count: %w", err)
	}
	h.CapturedCount = captured

	dead, err := p.deadLetters.CountDocuments(ctx, bson.M{"inboxName": inboxName})
	if err != nil {
		return h, fmt.Errorf("dead letter count: %w", err)
	}
	h.DeadLetterCount = dead

	opts := options.FindOne().SetSort(bson.D{{Key: "receivedAt", Value: 1}})
	var oldest messageDoc
	err = p.messages.FindOne(ctx, bson.M{"inboxName": inboxName, "capturedAt": nil}, opts).Decode(&oldest)
	if err == nil {
		t := oldest.ReceivedAt
		h.OldestPendingAt = &t
	} else if err != mongo.ErrNoDocuments {
		return h, fmt.Errorf("oldest pending: %w", err)
	}
	return h, nil
}

func (p *Provider) CleanupDeadLetters(ctx context.Context, inboxName string, olderThan time.Time) (int64, error) {
	res, err := p.deadLetters.DeleteMany(ctx, bson.M{"inboxName": inboxName, "movedAt": bson.M{"$lte": olderThan}})
	if err != nil {
		return 0, fmt.Errorf("cleanup dead letters: %w", err)
	}
	return res.DeletedCount, nil
}

func (p *Provider) CleanupDeduplicationRecords(ctx context.Context, inboxName string, olderThan time.Time, batchSize int) (int64, error) {
	res, err := p.dedup.DeleteMany(ctx, bson.M{"inboxName": inboxName, "createdAt": bson.M{"$lte": olderThan}})
	if err != nil {
		return 0, fmt.Errorf("cleanup dedup records: %w", err)
	}
	return res.DeletedCount, nil
}

func (p *Provider) CleanupExpiredGroupLocks(ctx context.Context, inboxName string, olderThan time.Time) (int64, error) {
	res, err := p.groupLocks.UpdateMany(ctx,
		bson.M{"inboxName": inboxName, "lockedAt": bson.M{"$ne": nil, "$lte": olderThan}},
		bson.M{"$set": bson.M{"lockedAt": nil, "lockedBy": ""}})
	if err != nil {
		return 0, fmt.Errorf("cleanup expired group locks: %w", err)
	}
	return res.ModifiedCount, nil
}
