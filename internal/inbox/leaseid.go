package inbox

import "go.inboxmq.dev/internal/common/tsid"

// NewWorkerID builds a sortable worker/lease correlation id for logging and
// CapturedBy values, prefixed by the process role. Message ids themselves
// use uuid (spec's 128-bit Id requirement); tsid's 64-bit sortable id is
// reused here for internal correlation where sort order, not id width, is
// what matters — see DESIGN.md.
func NewWorkerID(prefix string) string {
	if prefix == "" {
		prefix = "worker"
	}
	return prefix + "-" + tsid.Generate()
}
