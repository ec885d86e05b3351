package bridge

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/hotword-go/internal/audiocore"
	"github.com/tphakala/hotword-go/internal/conf"
	"github.com/tphakala/hotword-go/internal/detector"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/events"
	"github.com/tphakala/hotword-go/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testAudio() conf.AudioSettings {
	return conf.AudioSettings{
		SampleRate:      16000,
		QuantumSize:     128,
		FramesPerSignal: 7,
		RegionBytes:     4096,
		MaxRegionBytes:  1 << 20,
		Clamp:           true,
		InputGain:       1,
	}
}

type fakeHandle struct {
	score  atomic.Int64
	calls  atomic.Int64
	closed atomic.Bool
}

func (h *fakeHandle) Detect(samples []float32) (int, error) {
	h.calls.Add(1)
	return int(h.score.Load()), nil
}

func (h *fakeHandle) Info() detector.Info {
	return detector.Info{Engine: "fake", SampleRate: 16000, Channels: 1, BitsPerSample: 16, NumHotwords: 2}
}

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

type fakeLoader struct {
	handle *fakeHandle
	err    error
	block  bool
	loads  atomic.Int64
}

func (l *fakeLoader) EngineName() string { return "fake" }

func (l *fakeLoader) Load(ctx context.Context) (detector.Handle, error) {
	l.loads.Add(1)
	if l.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if l.err != nil {
		return nil, l.err
	}
	l.handle = &fakeHandle{}
	l.handle.score.Store(2)
	return l.handle, nil
}

type fakeSource struct {
	startErr error
	errCh    chan error
	done     chan struct{}

	mu     sync.Mutex
	sink   audiocore.PCMSink
	active bool
	stops  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{errCh: make(chan error, 1), done: make(chan struct{})}
}

func (s *fakeSource) ID() string                    { return "fake" }
func (s *fakeSource) Name() string                  { return "fake source" }
func (s *fakeSource) Format() audiocore.AudioFormat { return audiocore.AudioFormat{} }
func (s *fakeSource) Errors() <-chan error          { return s.errCh }
func (s *fakeSource) Done() <-chan struct{}         { return s.done }

func (s *fakeSource) Start(_ context.Context, sink audiocore.PCMSink) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	s.active = true
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.stops++
	return nil
}

func (s *fakeSource) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// feed writes n samples of value v as S16LE.
func (s *fakeSource) feed(n int, v int16) {
	data := make([]byte, 2*n)
	for i := range n {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	sink.WritePCM(data)
}

type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) ProcessEvent(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
	return nil
}

func (r *recorder) find(kind events.Kind, text string) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.got {
		if e.Kind == kind && (text == "" || e.Text == text) {
			return e, true
		}
	}
	return events.Event{}, false
}

type harness struct {
	bridge  *Bridge
	loader  *fakeLoader
	source  *fakeSource
	rec     *recorder
	created atomic.Int64
	stopBus func()
}

func newHarness(t *testing.T, audio conf.AudioSettings) *harness {
	t.Helper()

	quiet := logger.NewSlogLogger(nil, logger.LogLevelError)
	h := &harness{loader: &fakeLoader{}, source: newFakeSource(), rec: &recorder{}}

	bus := events.NewBus(events.Config{Logger: quiet})
	require.NoError(t, bus.RegisterConsumer(h.rec))
	ctx, cancel := context.WithCancel(context.Background())
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		_ = bus.Run(ctx)
	}()
	h.stopBus = func() {
		cancel()
		<-busDone
	}

	b, err := New(Config{
		Audio:  audio,
		Labels: []string{"alpha", "beta"},
		Loader: h.loader,
		NewSource: func() (audiocore.Source, error) {
			h.created.Add(1)
			return h.source, nil
		},
		Bus:          bus,
		Health:       audiocore.HealthMonitorConfig{CheckInterval: 10 * time.Millisecond},
		DrainTimeout: 200 * time.Millisecond,
		Logger:       quiet,
	})
	require.NoError(t, err)
	h.bridge = b

	t.Cleanup(func() {
		_ = h.bridge.Stop()
		h.stopBus()
	})
	return h
}

func (h *harness) waitFor(t *testing.T, kind events.Kind, text string) events.Event {
	t.Helper()
	var ev events.Event
	require.Eventually(t, func() bool {
		var ok bool
		ev, ok = h.rec.find(kind, text)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return ev
}

func TestBridgeRunsSession(t *testing.T) {
	h := newHarness(t, testAudio())

	require.NoError(t, h.bridge.Start(context.Background()))
	assert.Equal(t, StateRunning, h.bridge.State())
	assert.Equal(t, TextReady, h.bridge.Status().Text)
	h.waitFor(t, events.KindStatus, TextLoading)
	h.waitFor(t, events.KindStatus, TextReady)

	// one full cycle of 7 quanta
	h.source.feed(7*128, 1000)

	ev := h.waitFor(t, events.KindResult, "")
	assert.Equal(t, 2, ev.Score)
	assert.Equal(t, 0, ev.Previous)
	assert.Equal(t, "beta", ev.Label)
	assert.Equal(t, "2", ev.Text)
	assert.Equal(t, "running", ev.State)

	st := h.bridge.Status()
	assert.Equal(t, "running", st.State)
	assert.Equal(t, "2", st.Text)
	assert.Equal(t, "fake", st.Engine)
	assert.Equal(t, "fake source", st.Source)
	assert.Equal(t, uint64(7), st.Producer.Quanta)
	assert.Equal(t, uint64(1), st.Producer.Signals)
	require.NotNil(t, st.LastResult)
	assert.Equal(t, 2, st.LastResult.Score)

	require.NoError(t, h.bridge.Stop())
	assert.Equal(t, StateStopped, h.bridge.State())
	assert.Equal(t, TextStopped, h.bridge.Status().Text)
	assert.False(t, h.source.IsActive())
	assert.True(t, h.loader.handle.closed.Load())
	assert.Equal(t, int64(1), h.loader.handle.calls.Load())
}

func TestBridgeRejectsSecondStart(t *testing.T) {
	h := newHarness(t, testAudio())

	require.NoError(t, h.bridge.Start(context.Background()))
	err := h.bridge.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
	assert.Equal(t, int64(1), h.loader.loads.Load())
}

func TestBridgeLoadFailure(t *testing.T) {
	h := newHarness(t, testAudio())
	h.loader.err = errors.Newf("no model").Category(errors.CategoryModelLoad).Build()

	err := h.bridge.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, h.bridge.State())
	assert.Equal(t, int64(0), h.created.Load(), "capture must not start without an engine")

	ev := h.waitFor(t, events.KindError, "Failed to load detector")
	assert.Equal(t, string(errors.CategoryModelLoad), ev.Category)
	assert.NotEmpty(t, h.bridge.Status().Error)
}

func TestBridgeAllocationFailure(t *testing.T) {
	audio := testAudio()
	audio.MaxRegionBytes = 1024
	h := newHarness(t, audio)

	err := h.bridge.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAllocation))
	assert.Equal(t, StateFailed, h.bridge.State())
	assert.Equal(t, int64(0), h.created.Load())
	assert.True(t, h.loader.handle.closed.Load())
	h.waitFor(t, events.KindError, "Failed to allocate audio buffer")
}

func TestBridgeCaptureFailure(t *testing.T) {
	h := newHarness(t, testAudio())
	h.source.startErr = errors.NewStd("permission denied")

	err := h.bridge.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAudioSource))
	assert.Equal(t, StateFailed, h.bridge.State())
	assert.True(t, h.loader.handle.closed.Load())
	h.waitFor(t, events.KindError, "Audio capture failed")
}

func TestBridgeSourceErrorFailsSession(t *testing.T) {
	h := newHarness(t, testAudio())

	require.NoError(t, h.bridge.Start(context.Background()))
	h.source.errCh <- errors.NewStd("device unplugged")

	select {
	case <-h.bridge.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	assert.Equal(t, StateFailed, h.bridge.State())
	assert.True(t, h.loader.handle.closed.Load())
}

func TestBridgeFinishedSource(t *testing.T) {
	h := newHarness(t, testAudio())

	require.NoError(t, h.bridge.Start(context.Background()))
	h.source.feed(7*128, 1000)
	close(h.source.done)

	select {
	case <-h.bridge.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
	assert.Equal(t, StateStopped, h.bridge.State())
	assert.Equal(t, TextFinished, h.bridge.Status().Text)
	assert.Equal(t, int64(1), h.loader.handle.calls.Load())
}

func TestBridgeStopDuringLoad(t *testing.T) {
	h := newHarness(t, testAudio())
	h.loader.block = true

	errCh := make(chan error, 1)
	go func() { errCh <- h.bridge.Start(context.Background()) }()

	require.Eventually(t, func() bool { return h.loader.loads.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, h.bridge.Stop())

	err := <-errCh
	require.Error(t, err)
	assert.Equal(t, StateStopped, h.bridge.State())
	assert.Equal(t, int64(0), h.created.Load())
}

func TestBridgeRestart(t *testing.T) {
	h := newHarness(t, testAudio())

	require.NoError(t, h.bridge.Start(context.Background()))
	first := h.bridge.Status().SessionID
	require.NoError(t, h.bridge.Stop())

	require.NoError(t, h.bridge.Start(context.Background()))
	second := h.bridge.Status().SessionID

	assert.NotEqual(t, first, second)
	assert.Equal(t, StateRunning, h.bridge.State())
	assert.Equal(t, int64(2), h.loader.loads.Load())
}

func TestBridgeStopWhenIdle(t *testing.T) {
	h := newHarness(t, testAudio())
	require.NoError(t, h.bridge.Stop())
	assert.Equal(t, StateIdle, h.bridge.State())
	assert.Nil(t, h.bridge.Done())
}

func TestNewRequiresLoaderAndSource(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
