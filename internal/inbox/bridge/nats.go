package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"go.inboxmq.dev/internal/inbox"
	qnats "go.inboxmq.dev/internal/queue/nats"
)

// NewNATS builds a bridge that feeds writer from a NATS JetStream
// subject, one durable consumer per inbox.
func NewNATS(ctx context.Context, client *qnats.Client, inboxName, subject string, writer *inbox.Writer, clock inbox.Clock, logger *slog.Logger) (*Bridge, error) {
	consumerName := "inbox-" + inboxName
	consumer, err := client.CreateConsumer(ctx, consumerName, subject)
	if err != nil {
		return nil, fmt.Errorf("bridge: nats consumer for inbox %q: %w", inboxName, err)
	}
	return New(fmt.Sprintf("%s.%s", inboxName, subject), consumer, writer, clock, logger), nil
}
