// Package producer implements the real-time side of the frame handoff.
//
// Process runs on the capture callback goroutine. It never blocks, never
// allocates and never takes a lock: it scales one quantum into the attached
// region, and after every FramesPerSignal quanta flips the region's state word
// to ready and wakes the consumer.
package producer

import (
	"sync/atomic"

	"github.com/tphakala/hotword-go/internal/audiocore/framebuf"
	"github.com/tphakala/hotword-go/internal/errors"
)

const (
	// DefaultQuantumSize is the number of samples delivered per capture callback.
	DefaultQuantumSize = 128

	// DefaultFramesPerSignal is the number of quanta accumulated per detection cycle.
	DefaultFramesPerSignal = 7

	// Int16Scale maps normalized samples onto the int16 magnitude.
	Int16Scale = 32768

	int16Max = 32767
	int16Min = -32768
)

// Scale converts a normalized sample to the int16 amplitude scale, clamped to
// [-32768, 32767]. 1.0 maps to 32767.
func Scale(s float32) float32 {
	v := s * Int16Scale
	switch {
	case v > int16Max:
		return int16Max
	case v < int16Min:
		return int16Min
	case v != v: // NaN
		return 0
	}
	return v
}

// ScaleUnclamped is the raw s * 32768 mapping; 1.0 maps to 32768.
func ScaleUnclamped(s float32) float32 {
	return s * Int16Scale
}

// Options configures a Producer.
type Options struct {
	QuantumSize     int
	FramesPerSignal int
	// Unclamped disables int16 clamping.
	Unclamped bool
}

// Stats is a snapshot of producer counters.
type Stats struct {
	Quanta   uint64 // quanta accepted
	Signals  uint64 // 0→1 transitions performed
	Overruns uint64 // cycles completed while the previous one was still undrained
	Rejected uint64 // quanta dropped for having the wrong length
	Detached uint64 // quanta processed with no region attached
}

// Producer writes quanta into a shared region.
// Process must only be called from one goroutine at a time.
type Producer struct {
	quantumSize     int
	framesPerSignal int
	clamp           bool

	region atomic.Pointer[framebuf.Region]

	// owned by the Process goroutine
	writeIndex int
	scaled     []float32

	quanta   atomic.Uint64
	signals  atomic.Uint64
	overruns atomic.Uint64
	rejected atomic.Uint64
	detached atomic.Uint64
}

// New creates a detached producer.
func New(opts Options) *Producer {
	if opts.QuantumSize <= 0 {
		opts.QuantumSize = DefaultQuantumSize
	}
	if opts.FramesPerSignal <= 0 {
		opts.FramesPerSignal = DefaultFramesPerSignal
	}
	return &Producer{
		quantumSize:     opts.QuantumSize,
		framesPerSignal: opts.FramesPerSignal,
		clamp:           !opts.Unclamped,
		scaled:          make([]float32, opts.QuantumSize),
	}
}

// QuantumSize returns the expected quantum length.
func (p *Producer) QuantumSize() int {
	return p.quantumSize
}

// LogicalFrames returns the number of samples written per cycle.
func (p *Producer) LogicalFrames() int {
	return p.quantumSize * p.framesPerSignal
}

// Attach points the producer at region. It is safe to call while Process runs.
// The region must hold at least LogicalFrames samples.
func (p *Producer) Attach(region *framebuf.Region) error {
	if region == nil {
		return errors.Newf("cannot attach nil region").
			Component("audiocore.producer").
			Category(errors.CategoryState).
			Build()
	}
	if region.Capacity() < p.LogicalFrames() {
		return errors.Newf("region holds %d samples, producer writes %d per cycle", region.Capacity(), p.LogicalFrames()).
			Component("audiocore.producer").
			Category(errors.CategoryBuffer).
			Context("operation", "attach_region").
			Build()
	}
	p.region.Store(region)
	return nil
}

// Detach stops shared writes; subsequent quanta only advance bookkeeping.
func (p *Producer) Detach() {
	p.region.Store(nil)
}

// Attached reports whether a region is attached.
func (p *Producer) Attached() bool {
	return p.region.Load() != nil
}

// Process accepts one quantum. It is called from the capture callback.
func (p *Producer) Process(quantum []float32) {
	if len(quantum) != p.quantumSize {
		p.rejected.Add(1)
		return
	}
	p.quanta.Add(1)

	scaled := p.scaled
	if p.clamp {
		for i, s := range quantum {
			scaled[i] = Scale(s)
		}
	} else {
		for i, s := range quantum {
			scaled[i] = ScaleUnclamped(s)
		}
	}

	region := p.region.Load()
	if region == nil {
		p.detached.Add(1)
		p.advance(nil)
		return
	}

	region.Samples().StoreAt(p.writeIndex*p.quantumSize, scaled)
	p.advance(region)
}

// advance moves writeIndex and signals after the last quantum of a cycle.
func (p *Producer) advance(region *framebuf.Region) {
	if p.writeIndex < p.framesPerSignal-1 {
		p.writeIndex++
		return
	}
	p.writeIndex = 0

	if region == nil {
		return
	}

	state := region.State()
	if state.CompareAndSwap(framebuf.StateDrained, framebuf.StateReady) {
		p.signals.Add(1)
	} else {
		p.overruns.Add(1)
	}
	state.Notify()
}

// WriteIndex returns the quantum slot the next Process call writes to.
// Only meaningful from the Process goroutine or once capture has stopped.
func (p *Producer) WriteIndex() int {
	return p.writeIndex
}

// Stats returns a snapshot of the counters.
func (p *Producer) Stats() Stats {
	return Stats{
		Quanta:   p.quanta.Load(),
		Signals:  p.signals.Load(),
		Overruns: p.overruns.Load(),
		Rejected: p.rejected.Load(),
		Detached: p.detached.Load(),
	}
}
