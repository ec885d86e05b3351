package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OperationMetrics implements Recorder on top of Prometheus vectors. The
// notification and datastore outputs record through it.
type OperationMetrics struct {
	Operations *prometheus.CounterVec
	Durations  *prometheus.HistogramVec
	Errors     *prometheus.CounterVec
}

// NewOperationMetrics creates and registers operation metrics.
func NewOperationMetrics(registry *prometheus.Registry) (*OperationMetrics, error) {
	m := &OperationMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Output operations by outcome",
		}, []string{"operation", "status"}),
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Output operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"operation"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Output operation errors by category",
		}, []string{"operation", "error_type"}),
	}
	for _, c := range []prometheus.Collector{m.Operations, m.Durations, m.Errors} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordOperation implements Recorder.
func (m *OperationMetrics) RecordOperation(operation, status string) {
	m.Operations.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *OperationMetrics) RecordDuration(operation string, seconds float64) {
	m.Durations.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *OperationMetrics) RecordError(operation, errorType string) {
	m.Errors.WithLabelValues(operation, errorType).Inc()
}
