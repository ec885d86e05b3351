// Package framebuf implements the shared frame region used to hand captured
// audio from the real-time producer to the detection consumer.
//
// A Region is a fixed array of float32 sample slots plus one int32 state word.
// State 0 means the slots hold nothing unread, 1 means a full cycle is ready.
// The producer moves 0→1 after filling and calls Notify; the consumer blocks in
// Wait while the word is 0 and stores 0 once it has taken its snapshot.
//
// The region is a single lossy slot. If the producer completes another cycle
// before the consumer drains, the older samples are overwritten in place and the
// consumer may read a mix of two cycles. Sample cells are individually atomic so
// this race is memory safe, but readers must treat the contents as unstable once
// they have stored 0.
package framebuf

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/tphakala/hotword-go/internal/errors"
)

const (
	// SampleBytes is the size of one float32 slot.
	SampleBytes = 4

	// DefaultCapacityBytes matches a 1024 sample region.
	DefaultCapacityBytes = 4096

	// DefaultMaxBytes caps a single region allocation.
	DefaultMaxBytes = 1 << 20
)

// State word values.
const (
	StateDrained int32 = 0
	StateReady   int32 = 1
)

// WaitResult reports why Wait returned without error.
type WaitResult int

const (
	// WaitOK means the waiter was woken by Notify.
	WaitOK WaitResult = iota
	// WaitNotEqual means the state word did not hold the expected value on entry.
	WaitNotEqual
)

func (w WaitResult) String() string {
	if w == WaitNotEqual {
		return "not-equal"
	}
	return "ok"
}

// Region is the shared sample array and its state word.
type Region struct {
	cells []atomic.Uint32
	state atomic.Int32
	wake  chan struct{}
}

type allocOptions struct {
	maxBytes int
}

// Option configures Allocate.
type Option func(*allocOptions)

// WithMaxBytes sets the platform limit for a region. Zero or negative keeps the default.
func WithMaxBytes(n int) Option {
	return func(o *allocOptions) {
		if n > 0 {
			o.maxBytes = n
		}
	}
}

// Allocate creates a region of capacityBytes, which must be a positive multiple
// of SampleBytes within the configured limit.
func Allocate(capacityBytes int, opts ...Option) (*Region, error) {
	o := allocOptions{maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(&o)
	}

	if capacityBytes <= 0 || capacityBytes%SampleBytes != 0 || capacityBytes > o.maxBytes {
		return nil, errors.Newf("cannot allocate shared region of %d bytes", capacityBytes).
			Component("audiocore.framebuf").
			Category(errors.CategoryAllocation).
			Context("operation", "allocate_region").
			Context("capacity_bytes", capacityBytes).
			Context("max_bytes", o.maxBytes).
			Build()
	}

	return &Region{
		cells: make([]atomic.Uint32, capacityBytes/SampleBytes),
		wake:  make(chan struct{}, 1),
	}, nil
}

// Capacity returns the number of sample slots.
func (r *Region) Capacity() int {
	return len(r.cells)
}

// CapacityBytes returns the region size in bytes.
func (r *Region) CapacityBytes() int {
	return len(r.cells) * SampleBytes
}

// Samples returns a view over the sample slots.
func (r *Region) Samples() SampleView {
	return SampleView{cells: r.cells}
}

// State returns a view over the state word.
func (r *Region) State() StateView {
	return StateView{r: r}
}

// SampleView is a mutable float32 view of a region's slots.
// Each slot is read and written atomically; a range copy is not.
type SampleView struct {
	cells []atomic.Uint32
}

// Len returns the number of slots.
func (v SampleView) Len() int {
	return len(v.cells)
}

// Load returns slot i.
func (v SampleView) Load(i int) float32 {
	return math.Float32frombits(v.cells[i].Load())
}

// Store sets slot i.
func (v SampleView) Store(i int, s float32) {
	v.cells[i].Store(math.Float32bits(s))
}

// StoreAt writes src starting at offset and returns the number of samples written.
// Samples past the end of the region are dropped.
func (v SampleView) StoreAt(offset int, src []float32) int {
	if offset < 0 || offset >= len(v.cells) {
		return 0
	}
	n := min(len(src), len(v.cells)-offset)
	cells := v.cells[offset : offset+n]
	for i := range cells {
		cells[i].Store(math.Float32bits(src[i]))
	}
	return n
}

// CopyTo copies the first len(dst) slots into dst and returns the count copied.
func (v SampleView) CopyTo(dst []float32) int {
	n := min(len(dst), len(v.cells))
	for i := range n {
		dst[i] = math.Float32frombits(v.cells[i].Load())
	}
	return n
}

// StateView exposes the state word with wait/notify.
type StateView struct {
	r *Region
}

// Load returns the state word.
func (s StateView) Load() int32 {
	return s.r.state.Load()
}

// Store sets the state word.
func (s StateView) Store(v int32) {
	s.r.state.Store(v)
}

// CompareAndSwap swaps the state word if it holds old.
func (s StateView) CompareAndSwap(old, v int32) bool {
	return s.r.state.CompareAndSwap(old, v)
}

// Notify wakes at most one waiter. It never blocks; if no one is waiting the
// wake is kept until the next Wait, which then returns WaitOK immediately.
func (s StateView) Notify() {
	select {
	case s.r.wake <- struct{}{}:
	default:
	}
}

// Wait blocks while the state word equals expected, until Notify or ctx is done.
// It returns WaitNotEqual without blocking if the word differs on entry. A WaitOK
// result does not guarantee the word changed; callers re-check it in a loop.
func (s StateView) Wait(ctx context.Context, expected int32) (WaitResult, error) {
	if s.r.state.Load() != expected {
		return WaitNotEqual, nil
	}

	select {
	case <-s.r.wake:
		return WaitOK, nil
	case <-ctx.Done():
		return WaitOK, ctx.Err()
	}
}
