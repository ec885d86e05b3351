// Package observability provides Prometheus metrics for hotword-go.
// Sentry error telemetry is handled by the errors package.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/hotword-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	Handoff    *metrics.HandoffMetrics
	Detection  *metrics.DetectionMetrics
	MQTT       *metrics.MQTTMetrics
	Operations *metrics.OperationMetrics
}

// NewMetrics creates a registry with all collectors plus the Go runtime and
// process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	handoff, err := metrics.NewHandoffMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create handoff metrics: %w", err)
	}
	detection, err := metrics.NewDetectionMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection metrics: %w", err)
	}
	mqtt, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}
	ops, err := metrics.NewOperationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		Handoff:    handoff,
		Detection:  detection,
		MQTT:       mqtt,
		Operations: ops,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
