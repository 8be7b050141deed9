package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "closethopper",
		Subsystem: "license_service",
		Name:      "operations_total",
		Help:      "License service operations by outcome.",
	}, []string{"operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "closethopper",
		Subsystem: "license_service",
		Name:      "operation_duration_seconds",
		Help:      "License service operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

// observeOperation records one operation outcome. A zero duration
// means the request failed before the operation ran and only the
// counter advances.
func observeOperation(operation, outcome string, d time.Duration) {
	operationsTotal.WithLabelValues(operation, outcome).Inc()
	if d > 0 {
		operationDuration.WithLabelValues(operation).Observe(d.Seconds())
	}
}
