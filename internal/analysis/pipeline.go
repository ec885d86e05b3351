// Package analysis assembles a detection session with its event sinks and
// runs it in realtime or file mode.
package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/hotword-go/internal/audiocore"
	"github.com/tphakala/hotword-go/internal/audiocore/sources"
	"github.com/tphakala/hotword-go/internal/bridge"
	"github.com/tphakala/hotword-go/internal/conf"
	"github.com/tphakala/hotword-go/internal/datastore"
	"github.com/tphakala/hotword-go/internal/detector/engines"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/events"
	"github.com/tphakala/hotword-go/internal/logger"
	"github.com/tphakala/hotword-go/internal/mqtt"
	"github.com/tphakala/hotword-go/internal/notification"
	"github.com/tphakala/hotword-go/internal/observability"
	"github.com/tphakala/hotword-go/internal/observability/metrics"
)

const mqttConnectTimeout = 15 * time.Second

// Options override pipeline dependencies.
type Options struct {
	// Loader defaults to the engine configured in settings.
	Loader bridge.Loader
	// NewSource creates the capture source for each session.
	NewSource bridge.SourceFactory
	// Consumers are registered on the bus after the built-in sinks.
	Consumers []events.Consumer
	Logger    logger.Logger
}

// Pipeline is a bridge plus the event bus and every configured sink.
type Pipeline struct {
	Settings *conf.Settings
	Metrics  *observability.Metrics
	Bus      *events.Bus
	Bridge   *bridge.Bridge
	// Store is nil when the SQLite history is disabled.
	Store *datastore.Store

	publisher *mqtt.Publisher
	log       logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPipeline builds the pipeline. Sinks that fail to initialize are logged
// and skipped; only core failures are returned.
func NewPipeline(settings *conf.Settings, opts Options) (*Pipeline, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("analysis")
	}
	if opts.NewSource == nil {
		return nil, errors.Newf("pipeline needs a source factory").
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategorySystem).
			Context("operation", "create_metrics").
			Build()
	}

	p := &Pipeline{
		Settings: settings,
		Metrics:  m,
		log:      log,
		Bus: events.NewBus(events.Config{
			Dedup:  events.NewDeduplicator(events.DefaultDedupTTL),
			Logger: log.Module("events"),
		}),
	}

	loader := opts.Loader
	if loader == nil {
		l, err := engines.New(&settings.Detector, log.Module("detector"))
		if err != nil {
			return nil, err
		}
		loader = l
	}

	consumers := []events.Consumer{m.Detection}
	if settings.Output.SQLite.Enabled {
		store, err := datastore.Open(settings.Output.SQLite.Path, datastore.Options{
			Recorder: m.Operations,
			Logger:   log.Module("datastore"),
			Debug:    settings.Debug,
		})
		if err != nil {
			return nil, err
		}
		p.Store = store
		consumers = append(consumers, store)
	}
	consumers = append(consumers, p.sinks()...)
	consumers = append(consumers, opts.Consumers...)
	for _, c := range consumers {
		if err := p.Bus.RegisterConsumer(c); err != nil {
			p.release()
			return nil, err
		}
	}

	p.Bridge, err = bridge.New(bridge.Config{
		Audio:     settings.Audio,
		Labels:    settings.Detector.Labels,
		Loader:    loader,
		NewSource: opts.NewSource,
		Bus:       p.Bus,
		Observer:  m.Detection,
		Logger:    log.Module("bridge"),
	})
	if err != nil {
		p.release()
		return nil, err
	}

	m.Handoff.SetSource(p.snapshot)
	return p, nil
}

// sinks creates the optional MQTT and notification consumers.
func (p *Pipeline) sinks() []events.Consumer {
	var out []events.Consumer

	if s := p.Settings.MQTT; s.Enabled {
		pub, err := mqtt.New(mqtt.ConfigFromSettings(&s),
			mqtt.WithMetrics(p.Metrics.MQTT),
			mqtt.WithLogger(p.log.Module("mqtt")))
		if err != nil {
			p.log.Error("MQTT publisher disabled", logger.Error(err))
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), mqttConnectTimeout)
			if err := pub.Connect(ctx); err != nil {
				// publishes fail until the broker comes back; the error counter shows it
				p.log.Warn("MQTT broker unreachable", logger.String("broker", s.Broker), logger.Error(err))
			}
			cancel()
			p.publisher = pub
			out = append(out, pub)
		}
	}

	if s := p.Settings.Notification; s.Enabled {
		n, err := notification.New(&s,
			notification.WithRecorder(p.Metrics.Operations),
			notification.WithLogger(p.log.Module("notification")))
		if err != nil {
			p.log.Error("Notifications disabled", logger.Error(err))
		} else {
			out = append(out, n)
		}
	}
	return out
}

func (p *Pipeline) snapshot() metrics.HandoffSnapshot {
	st := p.Bridge.Status()
	return metrics.HandoffSnapshot{
		State:    st.State,
		Health:   st.Health,
		Producer: st.Producer,
		Consumer: st.Consumer,
		Bus:      p.Bus.Stats(),
	}
}

// Start runs event delivery in the background.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Go(func() {
		if err := p.Bus.Run(ctx); err != nil {
			p.log.Error("Event bus stopped", logger.Error(err))
		}
	})
}

// Close stops the session, delivers queued events and releases the sinks.
func (p *Pipeline) Close() {
	p.once.Do(func() {
		if err := p.Bridge.Stop(); err != nil {
			p.log.Warn("Failed to stop session", logger.Error(err))
		}
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		p.release()
	})
}

// release disconnects the MQTT publisher and closes the store.
func (p *Pipeline) release() {
	if p.publisher != nil {
		p.publisher.Disconnect()
	}
	if p.Store == nil {
		return
	}
	if err := p.Store.Close(); err != nil {
		p.log.Warn("Failed to close detection store", logger.Error(err))
	}
}

// SoundcardSource returns a factory for the configured capture device.
func SoundcardSource(settings *conf.AudioSettings) bridge.SourceFactory {
	return func() (audiocore.Source, error) {
		return sources.CreateSource(settings, sources.Options{Type: sources.TypeSoundcard})
	}
}
