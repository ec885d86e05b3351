// Package processors provides in place quantum processors for the capture path.
package processors

import (
	"math"
	"sync/atomic"

	"github.com/tphakala/hotword-go/internal/audiocore"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/logger"
)

// MaxGain is the largest accepted input gain.
const MaxGain = 10.0

// GainProcessor scales samples and clips them to [-1, 1].
type GainProcessor struct {
	id      string
	gain    atomic.Uint64 // float64 bits
	clipped atomic.Uint64
	log     logger.Logger
}

// NewGainProcessor creates a gain processor with gain in [0, MaxGain].
func NewGainProcessor(id string, initialGain float64) (*GainProcessor, error) {
	if err := validateGain(initialGain); err != nil {
		return nil, err
	}

	gp := &GainProcessor{
		id:  id,
		log: logger.Global().Module("audio").Module("gain"),
	}
	gp.gain.Store(math.Float64bits(initialGain))

	gp.log.Debug("Gain processor created",
		logger.String("processor_id", id),
		logger.Float64("initial_gain", initialGain))
	return gp, nil
}

func validateGain(gain float64) error {
	if gain < 0.0 || gain > MaxGain || math.IsNaN(gain) {
		return errors.Newf("gain must be between 0.0 and %.1f", MaxGain).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryValidation).
			Context("gain", gain).
			Build()
	}
	return nil
}

// ID implements audiocore.Processor.
func (gp *GainProcessor) ID() string {
	return gp.id
}

// Apply implements audiocore.Processor.
func (gp *GainProcessor) Apply(quantum []float32) {
	gain := float32(gp.Gain())
	if gain == 1.0 {
		return
	}

	var clipped uint64
	for i, s := range quantum {
		v := s * gain
		switch {
		case v > 1.0:
			v = 1.0
			clipped++
		case v < -1.0:
			v = -1.0
			clipped++
		}
		quantum[i] = v
	}
	if clipped > 0 {
		gp.clipped.Add(clipped)
	}
}

// SetGain updates the gain value.
func (gp *GainProcessor) SetGain(gain float64) error {
	if err := validateGain(gain); err != nil {
		return err
	}
	gp.gain.Store(math.Float64bits(gain))
	gp.log.Info("Gain updated", logger.Float64("gain", gain))
	return nil
}

// Gain returns the current gain value.
func (gp *GainProcessor) Gain() float64 {
	return math.Float64frombits(gp.gain.Load())
}

// Clipped returns the number of samples clipped so far.
func (gp *GainProcessor) Clipped() uint64 {
	return gp.clipped.Load()
}
