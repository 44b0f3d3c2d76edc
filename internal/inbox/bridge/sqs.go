package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"go.inboxmq.dev/internal/inbox"
	qsqs "go.inboxmq.dev/internal/queue/sqs"
)

// NewSQS builds a bridge that feeds writer by long-polling an SQS queue.
// SQS has no subject-filter concept, so every inbox wired to SQS shares
// the client's one configured QueueURL; run separate queues per inbox
// when that isolation matters.
func NewSQS(ctx context.Context, client *qsqs.Client, inboxName string, writer *inbox.Writer, clock inbox.Clock, logger *slog.Logger) (*Bridge, error) {
	consumerName := "inbox-" + inboxName
	consumer, err := client.CreateConsumer(ctx, consumerName, "")
	if err != nil {
		return nil, fmt.Errorf("bridge: sqs consumer for inbox %q: %w", inboxName, err)
	}
	return New(inboxName, consumer, writer, clock, logger), nil
}
