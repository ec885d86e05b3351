package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/hotword-go/internal/audiocore/consumer"
	"github.com/tphakala/hotword-go/internal/audiocore/producer"
	"github.com/tphakala/hotword-go/internal/events"
)

// HandoffSnapshot is the counter state read at scrape time.
type HandoffSnapshot struct {
	State    string
	Health   string
	Producer producer.Stats
	Consumer consumer.Stats
	Bus      events.Stats
}

// HandoffSource returns the current snapshot.
type HandoffSource func() HandoffSnapshot

// Session states exported by hotword_session_state.
var sessionStates = []string{"idle", "loading", "ready", "running", "stopped", "failed"}

// HandoffMetrics exports producer, consumer and event bus counters. The
// counters live in the components as atomics and are read on every scrape.
type HandoffMetrics struct {
	mu     sync.RWMutex
	source HandoffSource

	quanta, signals, overruns, rejected, detached *prometheus.Desc
	cycles, emitted, spurious, detectErrs, allocs *prometheus.Desc
	published, suppressed, dropped, consumerErrs  *prometheus.Desc
	state, health                                 *prometheus.Desc
}

// NewHandoffMetrics creates and registers the collector. Until SetSource is
// called it reports nothing.
func NewHandoffMetrics(registry *prometheus.Registry) (*HandoffMetrics, error) {
	m := &HandoffMetrics{}
	m.initDescs()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

func (m *HandoffMetrics) initDescs() {
	m.quanta = desc("producer_quanta_total", "Audio quanta accepted by the producer")
	m.signals = desc("producer_signals_total", "Ready signals raised for the consumer")
	m.overruns = desc("producer_overruns_total", "Cycles completed while the previous cycle was undrained")
	m.rejected = desc("producer_rejected_total", "Quanta dropped for having the wrong length")
	m.detached = desc("producer_detached_total", "Quanta processed with no region attached")

	m.cycles = desc("consumer_cycles_total", "Detection cycles processed")
	m.emitted = desc("consumer_results_total", "Changed detection results reported")
	m.spurious = desc("consumer_spurious_wakes_total", "Consumer wakes that still observed no ready cycle")
	m.detectErrs = desc("consumer_detection_errors_total", "Failed detection calls")
	m.allocs = desc("consumer_scratch_allocations_total", "Scratch buffer allocations")

	m.published = desc("events_received_total", "Events published on the session bus")
	m.suppressed = desc("events_suppressed_total", "Duplicate status events suppressed")
	m.dropped = desc("events_dropped_total", "Events dropped because the bus queue was full")
	m.consumerErrs = desc("event_consumer_errors_total", "Event consumer failures")

	m.state = desc("session_state", "Current session state (1 for the active state)", "state")
	m.health = desc("capture_health", "Current capture health (1 for the active state)", "health")
}

// SetSource sets the snapshot function read on scrape.
func (m *HandoffMetrics) SetSource(source HandoffSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = source
}

// Describe implements prometheus.Collector.
func (m *HandoffMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		m.quanta, m.signals, m.overruns, m.rejected, m.detached,
		m.cycles, m.emitted, m.spurious, m.detectErrs, m.allocs,
		m.published, m.suppressed, m.dropped, m.consumerErrs,
		m.state, m.health,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (m *HandoffMetrics) Collect(ch chan<- prometheus.Metric) {
	m.mu.RLock()
	source := m.source
	m.mu.RUnlock()
	if source == nil {
		return
	}
	s := source()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(m.quanta, s.Producer.Quanta)
	counter(m.signals, s.Producer.Signals)
	counter(m.overruns, s.Producer.Overruns)
	counter(m.rejected, s.Producer.Rejected)
	counter(m.detached, s.Producer.Detached)

	counter(m.cycles, s.Consumer.Cycles)
	counter(m.emitted, s.Consumer.Emitted)
	counter(m.spurious, s.Consumer.SpuriousWakes)
	counter(m.detectErrs, s.Consumer.DetectionErrors)
	counter(m.allocs, s.Consumer.ScratchAllocs)

	counter(m.published, s.Bus.EventsReceived)
	counter(m.suppressed, s.Bus.EventsSuppressed)
	counter(m.dropped, s.Bus.EventsDropped)
	counter(m.consumerErrs, s.Bus.ConsumerErrors)

	for _, st := range sessionStates {
		ch <- prometheus.MustNewConstMetric(m.state, prometheus.GaugeValue, boolValue(st == s.State), st)
	}
	for _, h := range []string{"unknown", "ok", "silent", "stalled"} {
		ch <- prometheus.MustNewConstMetric(m.health, prometheus.GaugeValue, boolValue(h == s.Health), h)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
