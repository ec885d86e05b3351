// Package bridge supervises a detection session.
//
// A session loads the detection engine, allocates the shared region, starts
// the consumer goroutine, attaches the producer and only then starts audio
// capture. Lifecycle steps are driven by control messages (load, init,
// shareBuffers, result) and validated against the session state machine.
// Results and failures are published on the event bus.
package bridge

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/hotword-go/internal/audiocore"
	"github.com/tphakala/hotword-go/internal/audiocore/consumer"
	"github.com/tphakala/hotword-go/internal/audiocore/framebuf"
	"github.com/tphakala/hotword-go/internal/audiocore/processors"
	"github.com/tphakala/hotword-go/internal/audiocore/producer"
	"github.com/tphakala/hotword-go/internal/conf"
	"github.com/tphakala/hotword-go/internal/detector"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/events"
	"github.com/tphakala/hotword-go/internal/logger"
)

// Status texts shown to the user.
const (
	TextLoading  = "Loading..."
	TextReady    = "Ready"
	TextStopped  = "Stopped"
	TextFinished = "Finished"
)

const defaultDrainTimeout = time.Second

// Loader produces detection handles. engines.Loader implements it.
type Loader interface {
	Load(ctx context.Context) (detector.Handle, error)
	EngineName() string
}

// SourceFactory creates the capture source for a new session.
type SourceFactory func() (audiocore.Source, error)

// Config configures a Bridge.
type Config struct {
	Audio     conf.AudioSettings
	Labels    []string
	Loader    Loader
	NewSource SourceFactory
	// Bus receives session events. Nil disables publishing.
	Bus      *events.Bus
	Observer consumer.Observer
	Health   audiocore.HealthMonitorConfig
	// DrainTimeout bounds how long a finished source waits for the last cycle.
	DrainTimeout time.Duration
	Logger       logger.Logger
}

// Status is a snapshot of the bridge.
type Status struct {
	State      string         `json:"state"`
	Text       string         `json:"text"`
	Error      string         `json:"error,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Engine     string         `json:"engine"`
	Source     string         `json:"source,omitempty"`
	StartedAt  time.Time      `json:"started_at,omitzero"`
	Health     string         `json:"health"`
	LevelDB    *float64       `json:"level_db,omitempty"`
	LastResult *events.Event  `json:"last_result,omitempty"`
	Producer   producer.Stats `json:"producer"`
	Consumer   consumer.Stats `json:"consumer"`
}

type session struct {
	id        string
	log       logger.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once
	startedAt time.Time

	// set under Bridge.mu as they are created
	producer *producer.Producer
	consumer *consumer.Consumer
	source   audiocore.Source
	health   *audiocore.HealthMonitor

	region *framebuf.Region
	group  *errgroup.Group
	gctx   context.Context
}

func (s *session) finish() {
	s.once.Do(func() { close(s.done) })
}

// Bridge runs one detection session at a time.
type Bridge struct {
	cfg Config
	log logger.Logger

	mu         sync.Mutex
	state      State
	text       string
	lastErr    string
	sess       *session // active session, nil when none
	last       *session // most recent session, kept for Status
	lastResult *events.Event
}

// New creates an idle bridge.
func New(cfg Config) (*Bridge, error) {
	if cfg.Loader == nil || cfg.NewSource == nil {
		return nil, errors.Newf("bridge needs a detector loader and a source factory").
			Component("bridge").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("bridge")
	}
	return &Bridge{cfg: cfg, log: log}, nil
}

// Start runs a new session. It returns once capture is running, or with the
// error that moved the session to Failed. Starting while a session is active
// is rejected. ctx bounds the start sequence only; the session runs until Stop.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state.Active() {
		state := b.state
		b.mu.Unlock()
		return errors.Newf("session already %s", state).
			Component("bridge").
			Category(errors.CategoryState).
			Context("state", state.String()).
			Build()
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	id := uuid.NewString()
	sess := &session{
		id:        id,
		log:       logger.ForSession(b.log, id),
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	b.sess, b.last = sess, sess
	b.lastResult = nil
	b.lastErr = ""
	b.setStateLocked(sess, StateLoading, TextLoading)
	b.mu.Unlock()

	sess.log.Info("Starting session",
		logger.String("engine", b.cfg.Loader.EngineName()))

	loadCtx, stopLoad := context.WithCancel(sessCtx)
	unwatch := context.AfterFunc(ctx, stopLoad)
	handle, loadErr := b.cfg.Loader.Load(loadCtx)
	unwatch()
	stopLoad()

	if err := b.apply(sess, LoadMessage(loadErr == nil)); err != nil {
		if handle != nil {
			_ = handle.Close()
		}
		b.abort(sess, "", err)
		return err
	}
	if loadErr != nil {
		b.abort(sess, "Failed to load detector", loadErr)
		return loadErr
	}
	b.setStatus(sess, TextReady)

	if err := b.apply(sess, InitMessage()); err != nil {
		_ = handle.Close()
		b.abort(sess, "", err)
		return err
	}

	if err := b.startWorker(sessCtx, sess, handle); err != nil {
		return err
	}
	if err := b.startCapture(sess); err != nil {
		return err
	}

	go b.supervise(sess)

	sess.log.Info("Session running",
		logger.Int("region_samples", sess.region.Capacity()),
		logger.Int("logical_frames", b.cfg.Audio.LogicalFrames()))
	return nil
}

// startWorker allocates the region, starts the consumer and attaches the producer.
func (b *Bridge) startWorker(sessCtx context.Context, sess *session, handle detector.Handle) error {
	audio := &b.cfg.Audio

	region, err := framebuf.Allocate(audio.RegionBytes, framebuf.WithMaxBytes(audio.MaxRegionBytes))
	if err != nil {
		_ = handle.Close()
		b.abort(sess, "Failed to allocate audio buffer", err)
		return err
	}

	prod := producer.New(producer.Options{
		QuantumSize:     audio.QuantumSize,
		FramesPerSignal: audio.FramesPerSignal,
		Unclamped:       !audio.Clamp,
	})

	cons, err := consumer.New(region, handle, consumer.Options{
		Frames:   prod.LogicalFrames(),
		OnResult: func(r consumer.Result) { b.onResult(sess, r) },
		OnError:  func(err error) { b.onDetectError(sess, err) },
		Observer: b.cfg.Observer,
		Logger:   sess.log.Module("consumer"),
	})
	if err != nil {
		_ = handle.Close()
		b.abort(sess, "Failed to start detection", err)
		return err
	}

	group, gctx := errgroup.WithContext(sessCtx)
	sess.region = region
	sess.group = group
	sess.gctx = gctx
	group.Go(func() error { return cons.Run(gctx) })

	b.mu.Lock()
	sess.producer = prod
	sess.consumer = cons
	b.mu.Unlock()

	if err := b.apply(sess, ShareBuffersMessage(region)); err != nil {
		b.abort(sess, "", err)
		return err
	}
	if err := prod.Attach(region); err != nil {
		b.abort(sess, "Failed to share audio buffer", err)
		return err
	}
	return nil
}

// startCapture starts the source feeding the producer and the goroutines watching it.
func (b *Bridge) startCapture(sess *session) error {
	audio := &b.cfg.Audio

	var procs []audiocore.Processor
	if audio.InputGain > 0 && audio.InputGain != 1 {
		gain, err := processors.NewGainProcessor("input_gain", audio.InputGain)
		if err != nil {
			b.abort(sess, "Invalid input gain", err)
			return err
		}
		procs = append(procs, gain)
	}
	if audio.DCBlock {
		procs = append(procs, processors.NewDCBlocker("dc_block", 0))
	}

	quant, err := audiocore.NewQuantizer(sess.producer.QuantumSize(), sess.producer, procs...)
	if err != nil {
		b.abort(sess, "Failed to start capture", err)
		return err
	}

	src, err := b.cfg.NewSource()
	if err != nil {
		err = audioSourceError(err, "create_source")
		b.abort(sess, "Audio capture unavailable", err)
		return err
	}
	if err := src.Start(sess.gctx, quant); err != nil {
		err = audioSourceError(err, "start_source")
		b.abort(sess, "Audio capture failed", err)
		return err
	}

	healthCfg := b.cfg.Health
	onChange := healthCfg.OnChange
	healthCfg.OnChange = func(prev, next audiocore.HealthState) {
		b.onHealthChange(sess, next)
		if onChange != nil {
			onChange(prev, next)
		}
	}
	health := audiocore.NewHealthMonitor(quant, healthCfg)

	b.mu.Lock()
	sess.source = src
	sess.health = health
	stale := b.sess != sess
	b.mu.Unlock()

	if stale {
		b.abort(sess, "", errStopped())
		return errStopped()
	}

	gctx := sess.gctx
	sess.group.Go(func() error {
		health.Run(gctx)
		return nil
	})
	sess.group.Go(func() error { return b.watchSource(gctx, sess, src) })
	return nil
}

// watchSource ends the session when the source fails or runs out of audio.
func (b *Bridge) watchSource(ctx context.Context, sess *session, src audiocore.Source) error {
	var errCh <-chan error
	if r, ok := src.(audiocore.ErrorReporter); ok {
		errCh = r.Errors()
	}
	var done <-chan struct{}
	if f, ok := src.(audiocore.Finisher); ok {
		done = f.Done()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return audioSourceError(err, "capture")
	case <-done:
		if ctx.Err() != nil {
			return nil
		}
		b.drain(ctx, sess)
		sess.log.Info("Audio source finished", logger.String("source", src.Name()))
		sess.cancel()
		return nil
	}
}

// drain waits until the consumer has taken the last signalled cycle.
func (b *Bridge) drain(ctx context.Context, sess *session) {
	state := sess.region.State()
	deadline := time.NewTimer(b.cfg.DrainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for state.Load() != framebuf.StateDrained {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

// supervise waits for the session goroutines and records how the session ended.
func (b *Bridge) supervise(sess *session) {
	err := sess.group.Wait()
	b.teardown(sess)

	b.mu.Lock()
	if b.sess == sess {
		b.sess = nil
		if err != nil {
			b.failLocked(sess, "Audio capture failed", err)
		} else {
			b.setStateLocked(sess, StateStopped, TextFinished)
		}
	}
	b.mu.Unlock()

	if err != nil {
		sess.log.Error("Session ended with error", logger.Error(err))
	} else {
		sess.log.Info("Session finished")
	}
	sess.finish()
}

// Stop ends the active session: the producer is detached, capture stops, the
// consumer is cancelled and Stop waits for it to exit. Stopping an idle
// bridge is a no-op.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	sess := b.sess
	if sess == nil {
		b.mu.Unlock()
		return nil
	}
	b.sess = nil
	prod, src := sess.producer, sess.source
	b.setStateLocked(sess, StateStopped, TextStopped)
	b.mu.Unlock()

	if prod != nil {
		prod.Detach()
	}
	var err error
	if src != nil {
		err = src.Stop()
	}
	sess.cancel()
	<-sess.done

	sess.log.Info("Session stopped")
	return err
}

// Done returns a channel closed when the most recent session has ended. It is
// nil before the first Start.
func (b *Bridge) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return nil
	}
	return b.last.done
}

// State returns the lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot for display.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{
		State:  b.state.String(),
		Text:   b.text,
		Error:  b.lastErr,
		Engine: b.cfg.Loader.EngineName(),
		Health: audiocore.HealthUnknown.String(),
	}
	if b.lastResult != nil {
		r := *b.lastResult
		st.LastResult = &r
	}

	sess := b.last
	if sess == nil {
		return st
	}
	st.SessionID = sess.id
	st.StartedAt = sess.startedAt
	if sess.source != nil {
		st.Source = sess.source.Name()
	}
	if sess.health != nil {
		st.Health = sess.health.State().String()
		if db := sess.health.LastLevelDB(); !math.IsInf(db, 0) && !math.IsNaN(db) {
			st.LevelDB = &db
		}
	}
	if sess.producer != nil {
		st.Producer = sess.producer.Stats()
	}
	if sess.consumer != nil {
		st.Consumer = sess.consumer.Stats()
	}
	return st
}

// apply validates msg against the current state and performs the transition.
func (b *Bridge) apply(sess *session, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applyLocked(sess, &msg)
}

func (b *Bridge) applyLocked(sess *session, msg *Message) error {
	if b.sess != sess {
		return errStopped()
	}
	from := b.state
	next, err := transition(from, msg)
	if err != nil {
		return err
	}
	b.state = next
	if next != from {
		b.log.Debug("Session state changed",
			logger.String("action", string(msg.Action)),
			logger.String("from", from.String()),
			logger.String("to", next.String()))
	}
	return nil
}

func (b *Bridge) onResult(sess *session, r consumer.Result) {
	msg := ResultMessage(r.Score)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.applyLocked(sess, &msg); err != nil {
		return
	}

	ev := events.NewEvent(events.KindResult, sess.id, strconv.Itoa(r.Score))
	ev.Score = r.Score
	ev.Previous = r.Previous
	ev.Label = detector.Label(r.Score, b.cfg.Labels)
	ev.Cycle = r.Cycle
	ev.Latency = r.Latency
	ev.Time = r.At

	b.text = ev.Text
	b.lastResult = &ev
	b.publishLocked(ev)

	if detector.IsHotword(r.Score) {
		sess.log.Info("Hotword detected",
			logger.String("label", ev.Label),
			logger.Int("score", r.Score),
			logger.Uint64("cycle", r.Cycle))
	}
}

func (b *Bridge) onDetectError(sess *session, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess != sess {
		return
	}
	ev := events.NewEvent(events.KindError, sess.id, "Detection failed")
	ev.Category = categoryOf(err)
	b.publishLocked(ev)
}

func (b *Bridge) onHealthChange(sess *session, next audiocore.HealthState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess != sess {
		return
	}
	b.publishLocked(events.NewEvent(events.KindStatus, sess.id, "Audio "+next.String()))
}

// setStatus updates the display text of the active session.
func (b *Bridge) setStatus(sess *session, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess != sess {
		return
	}
	b.text = text
	b.publishLocked(events.NewEvent(events.KindStatus, sess.id, text))
}

func (b *Bridge) setStateLocked(sess *session, state State, text string) {
	b.state = state
	b.text = text
	b.publishLocked(events.NewEvent(events.KindStatus, sess.id, text))
}

func (b *Bridge) failLocked(sess *session, text string, err error) {
	b.state = StateFailed
	b.text = text
	b.lastErr = err.Error()
	ev := events.NewEvent(events.KindError, sess.id, text)
	ev.Category = categoryOf(err)
	b.publishLocked(ev)
}

func (b *Bridge) publishLocked(ev events.Event) {
	if b.cfg.Bus == nil {
		return
	}
	ev.State = b.state.String()
	b.cfg.Bus.TryPublish(ev)
}

// abort ends a session that failed to start. An empty text means the session
// was stopped meanwhile and only needs its resources released.
func (b *Bridge) abort(sess *session, text string, err error) {
	b.mu.Lock()
	if b.sess == sess && text != "" {
		b.sess = nil
		b.failLocked(sess, text, err)
	}
	b.mu.Unlock()

	if text != "" {
		sess.log.Error(text, logger.Error(err))
	}
	b.teardown(sess)
	sess.finish()
}

// teardown releases session resources in shutdown order.
func (b *Bridge) teardown(sess *session) {
	b.mu.Lock()
	prod, src := sess.producer, sess.source
	b.mu.Unlock()

	if prod != nil {
		prod.Detach()
	}
	if src != nil {
		if err := src.Stop(); err != nil {
			sess.log.Warn("Failed to stop audio source", logger.Error(err))
		}
	}
	sess.cancel()
	if sess.group != nil {
		_ = sess.group.Wait()
	}
}

func errStopped() error {
	return errors.Newf("session stopped").
		Component("bridge").
		Category(errors.CategoryState).
		Build()
}

func audioSourceError(err error, op string) error {
	if errors.IsCategory(err, errors.CategoryAudioSource) {
		return err
	}
	return errors.New(err).
		Component("bridge").
		Category(errors.CategoryAudioSource).
		Context("operation", op).
		Build()
}

func categoryOf(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return ""
}
