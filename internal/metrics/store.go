package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Record store and reducer metrics.
var (
	RecordOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_operations_total",
			Help:      "Record store operations by outcome",
		},
		[]string{"op", "status"},
	)

	RecordOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_operation_duration_seconds",
			Help:      "Record store operation duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"op"},
	)

	ReductionFitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reduction_fits_total",
			Help:      "Reduction models created by mode",
		},
		[]string{"mode"},
	)
)

var storeOnce sync.Once

// RegisterStoreMetrics registers record store and reducer metrics.
// Safe to call more than once.
func RegisterStoreMetrics() {
	storeOnce.Do(func() {
		prometheus.MustRegister(RecordOperationsTotal, RecordOperationDuration, ReductionFitsTotal)
	})
}

// ObserveRecordOp records the outcome and latency of one record store call.
func ObserveRecordOp(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RecordOperationsTotal.WithLabelValues(op, status).Inc()
	RecordOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
