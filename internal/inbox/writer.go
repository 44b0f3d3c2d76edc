package inbox

import "context"

// Writer is the producer-facing API: write/write-batch, honoring dedup and
// collapse policy via the underlying provider. MaxWriteThreads bounds how
// many concurrent Write calls this writer allows; WriteBatch always chunks
// into WriteBatchSize-sized atomic calls regardless of concurrency.
type Writer struct {
	provider StorageProvider
	opts     Options
	sem      chan struct{}
}

func NewWriter(provider StorageProvider, opts Options) *Writer {
	threads := opts.MaxWriteThreads
	if threads <= 0 {
		threads = 1
	}
	return &Writer{provider: provider, opts: opts, sem: make(chan struct{}, threads)}
}

// InboxName returns the name of the inbox this writer feeds.
func (w *Writer) InboxName() string {
	return w.opts.InboxName
}

// Write inserts one message, honoring dedup and collapse-key policy.
func (w *Writer) Write(ctx context.Context, msg *InboxMessage) error {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-w.sem }()
	return w.provider.Write(ctx, msg)
}

// WriteBatch inserts many messages, chunked into WriteBatchSize-sized
// atomic provider calls.
func (w *Writer) WriteBatch(ctx context.Context, msgs []*InboxMessage) error {
	batchSize := w.opts.WriteBatchSize
	if batchSize <= 0 {
		batchSize = len(msgs)
	}
	for i := 0; i < len(msgs); i += batchSize {
		end := i + batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		if err := w.provider.WriteBatch(ctx, msgs[i:end]); err != nil {
			return err
		}
	}
	return nil
}
