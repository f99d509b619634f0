package replication

import "github.com/prometheus/client_golang/prometheus"

var (
	runningJobsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tinydoc",
			Subsystem: "replication",
			Name:      "running_jobs",
			Help:      "Number of replication jobs owned by this process.",
		})

	jobStateCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinydoc",
			Subsystem: "replication",
			Name:      "job_transitions_total",
			Help:      "Counter of replication job state transitions.",
		}, []string{"state"})

	replicatedDocsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinydoc",
			Subsystem: "replication",
			Name:      "replicated_docs_total",
			Help:      "Counter of remote changes replayed into local databases.",
		})

	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinydoc",
			Subsystem: "replication",
			Name:      "batch_duration_seconds",
			Help:      "Bucketed histogram of the time to replay and checkpoint one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		})
)

func init() {
	prometheus.MustRegister(runningJobsGauge)
	prometheus.MustRegister(jobStateCounter)
	prometheus.MustRegister(replicatedDocsCounter)
	prometheus.MustRegister(batchDuration)
}
