package badger_storage

import "github.com/prometheus/client_golang/prometheus"

var (
	txnConflictCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinydoc",
			Subsystem: "storage",
			Name:      "txn_conflicts_total",
			Help:      "Counter of badger transaction commits retried because of a conflict.",
		})

	txnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinydoc",
			Subsystem: "storage",
			Name:      "txn_duration_seconds",
			Help:      "Bucketed histogram of transaction durations, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"type"})
)

func init() {
	prometheus.MustRegister(txnConflictCounter)
	prometheus.MustRegister(txnDuration)
}
