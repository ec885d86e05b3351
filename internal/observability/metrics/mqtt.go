package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Publish failure reasons.
const (
	ReasonNotConnected = "not_connected"
	ReasonTimeout      = "timeout"
	ReasonRejected     = "rejected"
)

// MQTTMetrics tracks the MQTT result publisher. Published and Failures are
// labelled by payload kind (result or status).
type MQTTMetrics struct {
	Connected      prometheus.Gauge
	LastConnected  prometheus.Gauge
	Published      *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	ConnectionLost prometheus.Counter
	Reconnects     prometheus.Counter
	PublishSeconds prometheus.Histogram
}

// NewMQTTMetrics creates the publisher metrics and registers them with reg.
func NewMQTTMetrics(reg prometheus.Registerer) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "connected",
			Help: "1 while connected to the MQTT broker",
		}),
		LastConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "last_connected_timestamp_seconds",
			Help: "Unix time of the last successful broker connection",
		}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "published_total",
			Help: "Messages acknowledged by the broker",
		}, []string{"kind"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "publish_failures_total",
			Help: "Messages that could not be published",
		}, []string{"kind", "reason"}),
		ConnectionLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "connection_lost_total",
			Help: "Broker connections dropped after being established",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "reconnect_attempts_total",
			Help: "Automatic reconnection attempts",
		}),
		PublishSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "publish_duration_seconds",
			Help:    "Time from publish to broker acknowledgement",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.Connected, m.LastConnected, m.Published, m.Failures,
		m.ConnectionLost, m.Reconnects, m.PublishSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetConnected records the broker connection state.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if !connected {
		m.Connected.Set(0)
		return
	}
	m.Connected.Set(1)
	m.LastConnected.SetToCurrentTime()
}

// ObservePublish records one publish of kind. An empty reason is a success.
func (m *MQTTMetrics) ObservePublish(kind string, d time.Duration, reason string) {
	if reason != "" {
		m.Failures.WithLabelValues(kind, reason).Inc()
		return
	}
	m.Published.WithLabelValues(kind).Inc()
	m.PublishSeconds.Observe(d.Seconds())
}
