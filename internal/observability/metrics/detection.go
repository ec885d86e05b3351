package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/hotword-go/internal/events"
)

// DetectionMetrics records detection latency and results. It implements
// consumer.Observer for per-cycle latency and events.Consumer for results.
type DetectionMetrics struct {
	Latency     prometheus.Histogram
	Cycles      *prometheus.CounterVec // by outcome: hotword, none, silence, error
	Results     *prometheus.CounterVec // changed results by label
	Errors      *prometheus.CounterVec // error events by category
	LastHotword prometheus.Gauge
	LastScore   prometheus.Gauge
	registry    *prometheus.Registry
}

// NewDetectionMetrics creates and registers detection metrics.
func NewDetectionMetrics(registry *prometheus.Registry) (*DetectionMetrics, error) {
	m := &DetectionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DetectionMetrics) initMetrics() {
	m.Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "detection_duration_seconds",
		Help:      "Time spent in one detection call",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
	m.Cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detection_cycles_total",
		Help:      "Detection calls by outcome",
	}, []string{"outcome"})
	m.Results = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detection_results_total",
		Help:      "Changed detection results by label",
	}, []string{"label"})
	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_errors_total",
		Help:      "Session error events by category",
	}, []string{"category"})
	m.LastHotword = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_hotword_timestamp_seconds",
		Help:      "Unix time of the last hotword detection",
	})
	m.LastScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_score",
		Help:      "Last reported detection score",
	})
}

// ObserveCycle implements consumer.Observer.
func (m *DetectionMetrics) ObserveCycle(latency time.Duration, score int, err error) {
	m.Latency.Observe(latency.Seconds())
	m.Cycles.WithLabelValues(outcome(score, err)).Inc()
}

func outcome(score int, err error) string {
	switch {
	case err != nil || score == -1:
		return "error"
	case score == -2:
		return "silence"
	case score > 0:
		return "hotword"
	case score == 0:
		return "none"
	default:
		return "status_" + strconv.Itoa(-score)
	}
}

// Name implements events.Consumer.
func (m *DetectionMetrics) Name() string { return "metrics" }

// ProcessEvent implements events.Consumer.
func (m *DetectionMetrics) ProcessEvent(e events.Event) error {
	switch e.Kind {
	case events.KindResult:
		m.Results.WithLabelValues(e.Label).Inc()
		m.LastScore.Set(float64(e.Score))
		if e.IsHotword() {
			m.LastHotword.Set(float64(e.Time.Unix()))
		}
	case events.KindError:
		category := e.Category
		if category == "" {
			category = "unknown"
		}
		m.Errors.WithLabelValues(category).Inc()
	}
	return nil
}

// Describe implements prometheus.Collector.
func (m *DetectionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Latency.Describe(ch)
	m.Cycles.Describe(ch)
	m.Results.Describe(ch)
	m.Errors.Describe(ch)
	m.LastHotword.Describe(ch)
	m.LastScore.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *DetectionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Latency.Collect(ch)
	m.Cycles.Collect(ch)
	m.Results.Collect(ch)
	m.Errors.Collect(ch)
	m.LastHotword.Collect(ch)
	m.LastScore.Collect(ch)
}
