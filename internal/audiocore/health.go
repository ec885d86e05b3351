package audiocore

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tphakala/hotword-go/internal/logger"
)

// HealthState is the capture health reported by a HealthMonitor.
type HealthState int

const (
	HealthUnknown HealthState = iota // no audio seen yet
	HealthOK
	HealthSilent  // audio arrives but stays below the silence threshold
	HealthStalled // no audio for longer than the stall timeout
)

func (s HealthState) String() string {
	switch s {
	case HealthOK:
		return "ok"
	case HealthSilent:
		return "silent"
	case HealthStalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// LevelSource reports capture progress. Quantizer implements it.
type LevelSource interface {
	Level() float64
	LastQuantumAt() time.Time
}

// HealthMonitorConfig holds configuration for health monitoring.
type HealthMonitorConfig struct {
	SilenceThresholdDB float64       // dBFS below which audio counts as silence
	SilenceTimeout     time.Duration // silence longer than this is reported
	StallTimeout       time.Duration // no quanta for longer than this is reported
	CheckInterval      time.Duration
	OnChange           func(prev, next HealthState)
}

// HealthMonitor watches a capture stream for stalls and prolonged silence.
type HealthMonitor struct {
	cfg    HealthMonitorConfig
	source LevelSource
	log    logger.Logger

	mu          sync.Mutex
	state       HealthState
	lastSound   time.Time
	lastLevelDB float64
}

// NewHealthMonitor creates a monitor for source. Zero config values get defaults.
func NewHealthMonitor(source LevelSource, cfg HealthMonitorConfig) *HealthMonitor {
	if cfg.SilenceThresholdDB == 0 {
		cfg.SilenceThresholdDB = -70
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = time.Minute
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 2 * time.Second
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	return &HealthMonitor{
		cfg:         cfg,
		source:      source,
		log:         logger.Global().Module("audio").Module("health"),
		lastLevelDB: math.Inf(-1),
	}
}

// LevelDB converts a linear RMS in [0, 1] to dBFS.
func LevelDB(rms float64) float64 {
	if rms <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

// Check evaluates health at now and returns the current state.
func (h *HealthMonitor) Check(now time.Time) HealthState {
	h.mu.Lock()
	prev := h.state
	next := h.evaluate(now)
	h.state = next
	h.mu.Unlock()

	if next != prev {
		h.log.Info("Capture health changed",
			logger.String("from", prev.String()),
			logger.String("to", next.String()))
		if h.cfg.OnChange != nil {
			h.cfg.OnChange(prev, next)
		}
	}
	return next
}

func (h *HealthMonitor) evaluate(now time.Time) HealthState {
	last := h.source.LastQuantumAt()
	if last.IsZero() {
		return HealthUnknown
	}
	if now.Sub(last) > h.cfg.StallTimeout {
		return HealthStalled
	}

	h.lastLevelDB = LevelDB(h.source.Level())
	if h.lastLevelDB > h.cfg.SilenceThresholdDB || h.lastSound.IsZero() {
		if h.lastLevelDB > h.cfg.SilenceThresholdDB {
			h.lastSound = now
		} else {
			h.lastSound = last
		}
		return HealthOK
	}
	if now.Sub(h.lastSound) > h.cfg.SilenceTimeout {
		return HealthSilent
	}
	return HealthOK
}

// State returns the last evaluated state.
func (h *HealthMonitor) State() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// LastLevelDB returns the level seen by the last check.
func (h *HealthMonitor) LastLevelDB() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastLevelDB
}

// Run checks health every interval until ctx is done.
func (h *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			h.Check(now)
		case <-ctx.Done():
			return
		}
	}
}
