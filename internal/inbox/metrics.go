package inbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics grounded on internal/common/metrics/metrics.go's promauto
// Counter/Histogram/GaugeVec conventions, under a new "inbox" subsystem.
var (
	messagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inboxmq",
			Subsystem: "inbox",
			Name:      "messages_processed_total",
			Help:      "Total messages classified by the processing context",
		},
		[]string{"inbox", "outcome"}, // outcome: success, failed, retry, dead_letter, dispatch_failure
	)

	processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inboxmq",
			Subsystem: "inbox",
			Name:      "processing_duration_seconds",
			Help:      "Time from capture to applied outcome for one batch",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"inbox"},
	)

	capturedGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "inboxmq",
			Subsystem: "inbox",
			Name:      "captured_messages",
			Help:      "Messages currently captured (leased) for an inbox",
		},
		[]string{"inbox"},
	)

	pendingGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "inboxmq",
			Subsystem: "inbox",
			Name:      "pending_messages",
			Help:      "Messages currently pending for an inbox",
		},
		[]string{"inbox"},
	)

	deadLetterGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "inboxmq",
			Subsystem: "inbox",
			Name:      "dead_letter_messages",
			Help:      "Messages currently in the dead-letter store for an inbox",
		},
		[]string{"inbox"},
	)

	leaseExtensions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inboxmq",
			Subsystem: "inbox",
			Name:      "lease_extensions_total",
			Help:      "Lease extension attempts by result",
		},
		[]string{"inbox", "result"}, // result: ok, error
	)

	cleanupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inboxmq",
			Subsystem: "inbox",
			Name:      "cleanup_runs_total",
			Help:      "Cleanup supervisor passes by task and result",
		},
		[]string{"inbox", "task", "result"}, // task: dead_letter, dedup, group_lock; result: ok, error
	)
)

func recordOutcome(inboxName string, outcomeLabel string) {
	messagesProcessed.WithLabelValues(inboxName, outcomeLabel).Inc()
}

// RecordHealthMetrics publishes a HealthMetrics snapshot to the gauges
// above. Nothing in this repository calls it; the gauges stay unset
// until a caller does.
func RecordHealthMetrics(inboxName string, h HealthMetrics) {
	capturedGauge.WithLabelValues(inboxName).Set(float64(h.CapturedCount))
	pendingGauge.WithLabelValues(inboxName).Set(float64(h.PendingCount))
	deadLetterGauge.WithLabelValues(inboxName).Set(float64(h.DeadLetterCount))
}
