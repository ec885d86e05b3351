package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/hotword-go/internal/audiocore/consumer"
	"github.com/tphakala/hotword-go/internal/audiocore/producer"
	"github.com/tphakala/hotword-go/internal/events"
)

func TestHandoffMetricsReadSnapshot(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewHandoffMetrics(reg)
	require.NoError(t, err)

	// no source yet
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, n)

	m.SetSource(func() HandoffSnapshot {
		return HandoffSnapshot{
			State:    "running",
			Health:   "ok",
			Producer: producer.Stats{Quanta: 14, Signals: 2, Overruns: 1},
			Consumer: consumer.Stats{Cycles: 2, SpuriousWakes: 3},
			Bus:      events.Stats{EventsDropped: 4},
		}
	})

	expected := `
# HELP hotword_producer_signals_total Ready signals raised for the consumer
# TYPE hotword_producer_signals_total counter
hotword_producer_signals_total 2
# HELP hotword_consumer_spurious_wakes_total Consumer wakes that still observed no ready cycle
# TYPE hotword_consumer_spurious_wakes_total counter
hotword_consumer_spurious_wakes_total 3
# HELP hotword_events_dropped_total Events dropped because the bus queue was full
# TYPE hotword_events_dropped_total counter
hotword_events_dropped_total 4
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"hotword_producer_signals_total",
		"hotword_consumer_spurious_wakes_total",
		"hotword_events_dropped_total"))

	states := `
# HELP hotword_session_state Current session state (1 for the active state)
# TYPE hotword_session_state gauge
hotword_session_state{state="failed"} 0
hotword_session_state{state="idle"} 0
hotword_session_state{state="loading"} 0
hotword_session_state{state="ready"} 0
hotword_session_state{state="running"} 1
hotword_session_state{state="stopped"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(states), "hotword_session_state"))
}

func TestDetectionMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewDetectionMetrics(reg)
	require.NoError(t, err)

	m.ObserveCycle(time.Millisecond, 0, nil)
	m.ObserveCycle(time.Millisecond, 2, nil)
	m.ObserveCycle(time.Millisecond, -2, nil)
	m.ObserveCycle(time.Millisecond, -1, errors.New("boom"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.Cycles.WithLabelValues("hotword")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Cycles.WithLabelValues("silence")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Cycles.WithLabelValues("error")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Latency))

	hit := events.NewEvent(events.KindResult, "s", "2")
	hit.Score = 2
	hit.Label = "computer"
	require.NoError(t, m.ProcessEvent(hit))

	failure := events.NewEvent(events.KindError, "s", "Detection failed")
	require.NoError(t, m.ProcessEvent(failure))

	assert.InDelta(t, 1, testutil.ToFloat64(m.Results.WithLabelValues("computer")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.LastScore), 0)
	assert.InDelta(t, float64(hit.Time.Unix()), testutil.ToFloat64(m.LastHotword), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors.WithLabelValues("unknown")), 0)
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "none", outcome(0, nil))
	assert.Equal(t, "status_5", outcome(-5, nil))
}

func TestMQTTMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewMQTTMetrics(reg)
	require.NoError(t, err)

	m.SetConnected(true)
	m.ObservePublish("result", 10*time.Millisecond, "")
	m.ObservePublish("status", 2*time.Millisecond, "")
	m.ObservePublish("result", 0, ReasonTimeout)
	m.SetConnected(false)

	assert.InDelta(t, 0, testutil.ToFloat64(m.Connected), 0)
	assert.Positive(t, testutil.ToFloat64(m.LastConnected))
	assert.InDelta(t, 1, testutil.ToFloat64(m.Published.WithLabelValues("result")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Published.WithLabelValues("status")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Failures.WithLabelValues("result", ReasonTimeout)), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.PublishSeconds))

	_, err = NewMQTTMetrics(reg)
	assert.Error(t, err, "duplicate registration")
}

func TestOperationMetricsImplementsRecorder(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewOperationMetrics(reg)
	require.NoError(t, err)

	var r Recorder = m
	r.RecordOperation(OpNotify, StatusSuccess)
	r.RecordOperation(OpNotify, StatusSuccess)
	r.RecordError(OpDetectionInsert, "database")
	r.RecordDuration(OpDetectionInsert, 0.002)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Operations.WithLabelValues(OpNotify, StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors.WithLabelValues(OpDetectionInsert, "database")), 0)

	// duplicate registration fails
	_, err = NewOperationMetrics(reg)
	require.Error(t, err)

	NopRecorder{}.RecordOperation("x", "y")
}
