package embeddings

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kbserve",
		Subsystem: "embedding",
		Name:      "requests_total",
		Help:      "Embedding API requests by model, operation and result.",
	}, []string{"model", "operation", "result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kbserve",
		Subsystem: "embedding",
		Name:      "request_duration_seconds",
		Help:      "Embedding API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"model", "operation"})
)

func observeRequest(model, operation string, elapsed time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	requestsTotal.WithLabelValues(model, operation, result).Inc()
	requestDuration.WithLabelValues(model, operation).Observe(elapsed.Seconds())
}
