// Package bridge feeds an inbox.Writer from an external queue.Consumer,
// turning each delivered queue.Message into one inbox.InboxMessage write
// and acking/nak-ing the queue message based on whether the write
// succeeded. The inbox itself, not the queue, owns retry/dead-letter
// semantics from this point on — so a bridge only ever Acks (write
// succeeded, including a write that was silently deduped) or Naks
// (write failed, let the broker redeliver).
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.inboxmq.dev/internal/inbox"
	"go.inboxmq.dev/internal/queue"
)

// MessageTypeHeader is the metadata key a bridge reads a message's
// inbox.MessageType from. Producers that don't set it get the queue
// subject as their MessageType instead.
const MessageTypeHeader = "X-Meta-MessageType"

// DeduplicationIDHeader mirrors the queue's own dedup header, carried
// through onto the inbox message's DeduplicationID when present.
const DeduplicationIDHeader = "Nats-Msg-Id"

// Bridge drains one queue.Consumer into one inbox.Writer.
type Bridge struct {
	name     string
	consumer queue.Consumer
	writer   *inbox.Writer
	clock    inbox.Clock
	logger   *slog.Logger
}

// New builds a bridge named for logging (typically "<inbox>.<subject>").
func New(name string, consumer queue.Consumer, writer *inbox.Writer, clock inbox.Clock, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = inbox.SystemClock{}
	}
	return &Bridge{name: name, consumer: consumer, writer: writer, clock: clock, logger: logger}
}

// Run blocks consuming until ctx is cancelled or the underlying consumer
// returns a non-context error.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("bridge starting", "bridge", b.name)
	err := b.consumer.Consume(ctx, b.handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bridge %q: %w", b.name, err)
	}
	return nil
}

// Close closes the underlying consumer.
func (b *Bridge) Close() error {
	return b.consumer.Close()
}

func (b *Bridge) handle(qmsg queue.Message) error {
	msg := b.toInboxMessage(qmsg)

	ctx := context.Background()
	if err := b.writer.Write(ctx, msg); err != nil {
		b.logger.Warn("bridge write failed, nacking", "bridge", b.name, "message_id", msg.ID, "error", err)
		return qmsg.Nak()
	}
	return qmsg.Ack()
}

func (b *Bridge) toInboxMessage(qmsg queue.Message) *inbox.InboxMessage {
	meta := qmsg.Metadata()
	messageType := meta[MessageTypeHeader]
	if messageType == "" {
		messageType = qmsg.Subject()
	}

	msg := inbox.NewMessage(b.writer.InboxName(), messageType, qmsg.Data(), b.clock)
	if id := qmsg.ID(); id != "" {
		msg.ID = id
	}
	msg.GroupID = qmsg.MessageGroup()
	if dedupID := meta[DeduplicationIDHeader]; dedupID != "" {
		msg.DeduplicationID = dedupID
	}
	return msg
}
