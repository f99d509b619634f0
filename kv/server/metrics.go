package server

import "github.com/prometheus/client_golang/prometheus"

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinydoc",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Counter of HTTP requests by method and status code.",
		}, []string{"method", "code"})

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinydoc",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Bucketed histogram of HTTP request durations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 18),
		}, []string{"method"})
)

func init() {
	prometheus.MustRegister(requestCounter)
	prometheus.MustRegister(requestDuration)
}
