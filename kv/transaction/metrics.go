package transaction

import "github.com/prometheus/client_golang/prometheus"

var (
	writtenDocsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinydoc",
			Subsystem: "engine",
			Name:      "written_docs_total",
			Help:      "Counter of documents written, deletions included.",
		})

	writeFailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinydoc",
			Subsystem: "engine",
			Name:      "write_failures_total",
			Help:      "Counter of write transactions that did not commit.",
		}, []string{"op"})

	writeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinydoc",
			Subsystem: "engine",
			Name:      "write_duration_seconds",
			Help:      "Bucketed histogram of write transaction durations, latch wait included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"op"})
)

func init() {
	prometheus.MustRegister(writtenDocsCounter)
	prometheus.MustRegister(writeFailureCounter)
	prometheus.MustRegister(writeDuration)
}
