// Package energy provides a level based detector that needs no model files.
// It reports silence below a floor, hotword 1 above a threshold and none in between.
package energy

import (
	"context"
	"math"

	"github.com/tphakala/hotword-go/internal/detector"
	"github.com/tphakala/hotword-go/internal/errors"
)

const (
	// EngineName is the configuration name of this engine.
	EngineName = "energy"

	sampleRate    = 16000
	bitsPerSample = 16
)

// Options configures the energy engine.
type Options struct {
	Threshold    float64 // RMS on the int16 scale counted as a hit
	SilenceFloor float64 // RMS below which a chunk is silence
	detector.Config
}

// Engine creates energy handles.
type Engine struct {
	opts Options
}

// New returns an energy engine.
func New(opts Options) *Engine {
	if opts.Gain <= 0 {
		opts.Gain = 1
	}
	return &Engine{opts: opts}
}

// Name implements detector.Engine.
func (e *Engine) Name() string { return EngineName }

// NeedsResources implements detector.Engine.
func (e *Engine) NeedsResources() bool { return false }

// Load implements detector.Engine. Resources are ignored.
func (e *Engine) Load(ctx context.Context, _ detector.Resources) (detector.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.opts.Threshold <= e.opts.SilenceFloor || e.opts.SilenceFloor < 0 {
		return nil, errors.Newf("energy threshold %v must exceed silence floor %v", e.opts.Threshold, e.opts.SilenceFloor).
			Component("detector").
			Category(errors.CategoryModelInit).
			ModelContext("", EngineName).
			Build()
	}

	// sensitivity 0.5 keeps the configured threshold, 1.0 halves it
	threshold := e.opts.Threshold * (1.5 - e.opts.Sensitivity)
	if threshold <= e.opts.SilenceFloor {
		threshold = math.Nextafter(e.opts.SilenceFloor, math.Inf(1))
	}

	return &handle{
		gain:      e.opts.Gain,
		threshold: threshold,
		floor:     e.opts.SilenceFloor,
		info: detector.Info{
			Engine:        EngineName,
			SampleRate:    sampleRate,
			Channels:      1,
			BitsPerSample: bitsPerSample,
			Sensitivity:   e.opts.Sensitivity,
			NumHotwords:   1,
		},
	}, nil
}

type handle struct {
	gain      float64
	threshold float64
	floor     float64
	info      detector.Info
	closed    bool
}

// Detect implements detector.Handle.
func (h *handle) Detect(samples []float32) (int, error) {
	if h.closed {
		return detector.ScoreError, errors.Newf("energy handle used after close").
			Component("detector").
			Category(errors.CategoryState).
			Build()
	}
	if len(samples) == 0 {
		return detector.ScoreSilence, nil
	}

	rms, ok := RMS(samples)
	if !ok {
		return detector.ScoreError, errors.Newf("non-finite sample in chunk").
			Component("detector").
			Category(errors.CategoryDetection).
			Context("samples", len(samples)).
			Build()
	}
	rms *= h.gain

	switch {
	case rms < h.floor:
		return detector.ScoreSilence, nil
	case rms >= h.threshold:
		return 1, nil
	default:
		return detector.ScoreNone, nil
	}
}

func (h *handle) Info() detector.Info { return h.info }

func (h *handle) Close() error {
	h.closed = true
	return nil
}

// RMS returns the root mean square of samples. ok is false when a sample is NaN or infinite.
func RMS(samples []float32) (rms float64, ok bool) {
	if len(samples) == 0 {
		return 0, true
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples))), true
}
