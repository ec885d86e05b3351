// Package consumer implements the worker side of the frame handoff.
//
// Run blocks on the region's state word, snapshots the logical sample range into
// a scratch buffer, runs the detection handle and reports the score when it
// differs from the last one reported. The state word is drained after every
// cycle, including cycles whose detection call failed.
package consumer

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/hotword-go/internal/audiocore/framebuf"
	"github.com/tphakala/hotword-go/internal/detector"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/logger"
)

// NoResult is an initial result no engine returns, so the first score is always reported.
const NoResult = math.MinInt

// Result is a changed detection score.
type Result struct {
	Score    int
	Previous int
	Cycle    uint64
	At       time.Time
	Latency  time.Duration
}

// Observer receives per-cycle measurements. Implementations must be cheap.
type Observer interface {
	ObserveCycle(latency time.Duration, score int, err error)
}

// Options configures a Consumer.
type Options struct {
	// Frames is the number of samples read per cycle. Defaults to the region capacity.
	Frames int
	// InitialResult is the value the first score is compared against. Zero by default.
	InitialResult int
	// Allocator provides the scratch buffer. Defaults to a heap allocator.
	Allocator detector.Allocator
	// OnResult is called from the Run goroutine for each changed score.
	OnResult func(Result)
	// OnError is called from the Run goroutine for each failed detection call.
	OnError  func(error)
	Observer Observer
	Logger   logger.Logger
	// ErrorLogEvery limits how often detection failures are logged. Defaults to 5s.
	ErrorLogEvery time.Duration
}

// Stats is a snapshot of consumer counters.
type Stats struct {
	Cycles          uint64 // cycles processed
	Emitted         uint64 // results reported
	SpuriousWakes   uint64 // wakes that still observed state 0
	DetectionErrors uint64 // failed detection calls
	ScratchAllocs   uint64 // scratch (re)allocations
}

// Consumer owns a detection handle and the scratch buffer for one session.
type Consumer struct {
	region  *framebuf.Region
	handle  detector.Handle
	alloc   detector.Allocator
	frames  int
	opts    Options
	log     logger.Logger
	limiter *rate.Limiter

	// owned by the Run goroutine
	lastEmitted int
	scratch     []float32

	running       atomic.Bool
	cycles        atomic.Uint64
	emitted       atomic.Uint64
	spurious      atomic.Uint64
	detectErrors  atomic.Uint64
	scratchAllocs atomic.Uint64
}

// New creates a consumer reading region and scoring with handle.
// The consumer takes ownership of handle and closes it when Run returns.
func New(region *framebuf.Region, handle detector.Handle, opts Options) (*Consumer, error) {
	if region == nil || handle == nil {
		return nil, errors.Newf("consumer needs a region and a detection handle").
			Component("audiocore.consumer").
			Category(errors.CategoryValidation).
			Build()
	}

	frames := opts.Frames
	if frames <= 0 {
		frames = region.Capacity()
	}
	if frames > region.Capacity() {
		return nil, errors.Newf("consumer reads %d samples, region holds %d", frames, region.Capacity()).
			Component("audiocore.consumer").
			Category(errors.CategoryBuffer).
			Build()
	}

	alloc := opts.Allocator
	if alloc == nil {
		alloc = &detector.HeapAllocator{}
	}

	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("audio").Module("consumer")
	}

	every := opts.ErrorLogEvery
	if every <= 0 {
		every = 5 * time.Second
	}

	return &Consumer{
		region:      region,
		handle:      handle,
		alloc:       alloc,
		frames:      frames,
		opts:        opts,
		log:         log,
		limiter:     rate.NewLimiter(rate.Every(every), 1),
		lastEmitted: opts.InitialResult,
	}, nil
}

// Run processes cycles until ctx is done. It releases the handle and scratch
// buffer before returning. Cancellation is not an error; an allocation failure is.
func (c *Consumer) Run(ctx context.Context) (err error) {
	if !c.running.CompareAndSwap(false, true) {
		return errors.Newf("consumer already running").
			Component("audiocore.consumer").
			Category(errors.CategoryState).
			Build()
	}
	defer func() {
		err = errors.Join(err, c.release())
	}()

	state := c.region.State()
	info := c.handle.Info()
	c.log.Info("Consumer started",
		logger.String("engine", info.Engine),
		logger.Int("frames", c.frames))

	for {
		for state.Load() == framebuf.StateDrained {
			res, werr := state.Wait(ctx, framebuf.StateDrained)
			if werr != nil {
				c.log.Debug("Consumer stopping", logger.Uint64("cycles", c.cycles.Load()))
				return nil
			}
			if res == framebuf.WaitOK && state.Load() == framebuf.StateDrained {
				c.spurious.Add(1)
			}
		}

		if ctx.Err() != nil {
			return nil
		}

		if err := c.cycle(); err != nil {
			return err
		}
		state.Store(framebuf.StateDrained)
	}
}

// cycle handles one ready signal.
func (c *Consumer) cycle() error {
	scratch, err := c.ensureScratch(c.frames)
	if err != nil {
		return err
	}

	c.region.Samples().CopyTo(scratch)
	n := c.cycles.Add(1)

	start := time.Now()
	score, derr := c.handle.Detect(scratch)
	latency := time.Since(start)

	if c.opts.Observer != nil {
		c.opts.Observer.ObserveCycle(latency, score, derr)
	}

	if derr != nil {
		c.detectErrors.Add(1)
		wrapped := errors.New(derr).
			Component("audiocore.consumer").
			Category(errors.CategoryDetection).
			Context("operation", "detect").
			Context("cycle", n).
			Build()
		if c.limiter.Allow() {
			c.log.Warn("Detection failed, continuing",
				logger.Error(derr),
				logger.Uint64("failures", c.detectErrors.Load()))
		}
		if c.opts.OnError != nil {
			c.opts.OnError(wrapped)
		}
		return nil
	}

	if score == c.lastEmitted {
		return nil
	}

	r := Result{
		Score:    score,
		Previous: c.lastEmitted,
		Cycle:    n,
		At:       start,
		Latency:  latency,
	}
	c.lastEmitted = score
	c.emitted.Add(1)
	if c.opts.OnResult != nil {
		c.opts.OnResult(r)
	}
	return nil
}

// ensureScratch returns a buffer of n samples, reallocating only when n changes.
// The previous buffer is freed before the new one is allocated.
func (c *Consumer) ensureScratch(n int) ([]float32, error) {
	if c.scratch != nil && len(c.scratch) == n {
		return c.scratch, nil
	}

	c.freeScratch()

	buf, err := c.alloc.Alloc(n)
	if err != nil {
		return nil, errors.New(err).
			Component("audiocore.consumer").
			Category(errors.CategoryAllocation).
			Context("operation", "ensure_scratch").
			Context("samples", n).
			Build()
	}
	c.scratch = buf
	c.scratchAllocs.Add(1)
	c.log.Debug("Allocated scratch buffer", logger.Int("samples", n))
	return buf, nil
}

func (c *Consumer) freeScratch() {
	if c.scratch == nil {
		return
	}
	c.alloc.Free(c.scratch)
	c.scratch = nil
}

func (c *Consumer) release() error {
	c.freeScratch()
	if err := c.handle.Close(); err != nil {
		return errors.New(err).
			Component("audiocore.consumer").
			Category(errors.CategoryResource).
			Context("operation", "close_handle").
			Build()
	}
	return nil
}

// LastEmitted returns the last reported score. Only valid once Run has returned.
func (c *Consumer) LastEmitted() int {
	return c.lastEmitted
}

// Stats returns a snapshot of the counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Cycles:          c.cycles.Load(),
		Emitted:         c.emitted.Load(),
		SpuriousWakes:   c.spurious.Load(),
		DetectionErrors: c.detectErrors.Load(),
		ScratchAllocs:   c.scratchAllocs.Load(),
	}
}
