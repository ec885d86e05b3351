package detector

import (
	"sync/atomic"

	"github.com/tphakala/hotword-go/internal/errors"
)

// Allocator provides the scratch buffer handed to Handle.Detect.
// Free is called on every buffer before its replacement is allocated.
type Allocator interface {
	Alloc(n int) ([]float32, error)
	Free(buf []float32)
}

// HeapAllocator allocates from the Go heap.
type HeapAllocator struct {
	// MaxSamples rejects larger requests when positive.
	MaxSamples int

	allocs atomic.Uint64
	frees  atomic.Uint64
}

// Alloc returns a zeroed buffer of n samples.
func (a *HeapAllocator) Alloc(n int) ([]float32, error) {
	if n <= 0 || (a.MaxSamples > 0 && n > a.MaxSamples) {
		return nil, errors.Newf("cannot allocate scratch buffer of %d samples", n).
			Component("detector").
			Category(errors.CategoryAllocation).
			Context("operation", "alloc_scratch").
			Context("samples", n).
			Context("max_samples", a.MaxSamples).
			Build()
	}
	a.allocs.Add(1)
	return make([]float32, n), nil
}

// Free drops the buffer; the garbage collector reclaims it.
func (a *HeapAllocator) Free(buf []float32) {
	if buf != nil {
		a.frees.Add(1)
	}
}

// Allocs returns the number of successful allocations.
func (a *HeapAllocator) Allocs() uint64 {
	return a.allocs.Load()
}

// Frees returns the number of buffers released.
func (a *HeapAllocator) Frees() uint64 {
	return a.frees.Load()
}
