// Package engines builds the configured detection engine and loads handles for it.
package engines

import (
	"context"
	"strings"
	"time"

	"github.com/tphakala/hotword-go/internal/conf"
	"github.com/tphakala/hotword-go/internal/detector"
	"github.com/tphakala/hotword-go/internal/detector/energy"
	"github.com/tphakala/hotword-go/internal/detector/resources"
	"github.com/tphakala/hotword-go/internal/detector/tflite"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/logger"
)

// Loader produces detection handles. Resource downloads are shared across loads.
type Loader struct {
	engine   detector.Engine
	fetcher  *resources.Fetcher
	resource string
	model    string
	log      logger.Logger
}

// New returns a loader for the engine named in settings.
func New(settings *conf.DetectorSettings, log logger.Logger) (*Loader, error) {
	if log == nil {
		log = logger.Global().Module("detector")
	}

	cfg := detector.Config{
		Gain:        settings.Gain,
		Sensitivity: settings.Sensitivity,
		FrontEnd:    settings.FrontEnd,
		Threads:     settings.Threads,
		Labels:      settings.Labels,
	}

	l := &Loader{
		resource: settings.ResourceURL,
		model:    settings.ModelURL,
		log:      log,
	}

	switch strings.ToLower(settings.Engine) {
	case energy.EngineName:
		l.engine = energy.New(energy.Options{
			Threshold:    settings.Energy.Threshold,
			SilenceFloor: settings.Energy.SilenceFloor,
			Config:       cfg,
		})
	case tflite.EngineName:
		l.engine = tflite.New(tflite.Options{
			Config:       cfg,
			SilenceFloor: settings.Energy.SilenceFloor,
			Logger:       log.Module(tflite.EngineName),
		})
	default:
		return nil, errors.Newf("unknown detector engine %q", settings.Engine).
			Component("detector").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if l.engine.NeedsResources() {
		f, err := resources.NewFetcher(resources.Config{
			BaseURL:     settings.BaseURL,
			StoragePath: settings.StoragePath,
			Logger:      log.Module("resources"),
		})
		if err != nil {
			return nil, err
		}
		l.fetcher = f
	}
	return l, nil
}

// NewWithEngine wraps an existing engine. fetcher may be nil when the engine needs no resources.
func NewWithEngine(engine detector.Engine, fetcher *resources.Fetcher, resourceName, modelName string) *Loader {
	return &Loader{
		engine:   engine,
		fetcher:  fetcher,
		resource: resourceName,
		model:    modelName,
		log:      logger.Global().Module("detector"),
	}
}

// EngineName returns the name of the wrapped engine.
func (l *Loader) EngineName() string {
	return l.engine.Name()
}

// Load fetches resources when the engine needs them and returns a ready handle.
func (l *Loader) Load(ctx context.Context) (detector.Handle, error) {
	start := time.Now()

	var res detector.Resources
	if l.engine.NeedsResources() {
		if l.fetcher == nil {
			return nil, errors.Newf("engine %s needs resources but no fetcher is configured", l.engine.Name()).
				Component("detector").
				Category(errors.CategoryConfiguration).
				Build()
		}
		var err error
		if res, err = l.fetcher.Resolve(ctx, l.resource, l.model); err != nil {
			return nil, err
		}
	}

	h, err := l.engine.Load(ctx, res)
	if err != nil {
		return nil, err
	}

	info := h.Info()
	l.log.Info("Detector loaded",
		logger.String("engine", info.Engine),
		logger.Int("sample_rate", info.SampleRate),
		logger.Int("channels", info.Channels),
		logger.Int("bits_per_sample", info.BitsPerSample),
		logger.Float64("sensitivity", info.Sensitivity),
		logger.Int("hotwords", info.NumHotwords),
		logger.Duration("took", time.Since(start)))
	return h, nil
}
