package producer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/hotword-go/internal/audiocore/framebuf"
)

func newRegion(t *testing.T) *framebuf.Region {
	t.Helper()
	r, err := framebuf.Allocate(framebuf.DefaultCapacityBytes)
	require.NoError(t, err)
	return r
}

func constQuantum(v float32) []float32 {
	q := make([]float32, DefaultQuantumSize)
	for i := range q {
		q[i] = v
	}
	return q
}

func TestScale(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float32
		want float32
	}{
		{0, 0},
		{0.5, 16384},
		{1.0, 32767},
		{-1.0, -32768},
		{1.5, 32767},
		{-2.0, -32768},
		{float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Scale(tt.in), 0, "Scale(%v)", tt.in)
	}

	assert.InDelta(t, 32768, ScaleUnclamped(1.0), 0)
	assert.InDelta(t, -32768, ScaleUnclamped(-1.0), 0)
}

func TestSevenQuantaSignalOnce(t *testing.T) {
	t.Parallel()

	r := newRegion(t)
	p := New(Options{})
	require.NoError(t, p.Attach(r))

	for k := range 6 {
		p.Process(constQuantum(float32(k+1) / 10))
		assert.Equal(t, framebuf.StateDrained, r.State().Load(), "no signal before the 7th quantum")
	}
	p.Process(constQuantum(0.7))

	assert.Equal(t, framebuf.StateReady, r.State().Load())
	assert.Equal(t, uint64(1), p.Stats().Signals)
	assert.Equal(t, 0, p.WriteIndex())

	snapshot := make([]float32, p.LogicalFrames())
	require.Equal(t, 896, r.Samples().CopyTo(snapshot))
	for k := range 7 {
		want := Scale(float32(k+1) / 10)
		for i := k * DefaultQuantumSize; i < (k+1)*DefaultQuantumSize; i++ {
			require.InDelta(t, want, snapshot[i], 0, "sample %d", i)
		}
	}

	// headroom past the logical bound is untouched
	assert.InDelta(t, 0, r.Samples().Load(896), 0)
	assert.InDelta(t, 0, r.Samples().Load(1023), 0)
}

func TestSignalWakesWaiter(t *testing.T) {
	t.Parallel()

	r := newRegion(t)
	p := New(Options{})
	require.NoError(t, p.Attach(r))

	woke := make(chan struct{})
	go func() {
		defer close(woke)
		for r.State().Load() == framebuf.StateDrained {
			if _, err := r.State().Wait(context.Background(), framebuf.StateDrained); err != nil {
				return
			}
		}
	}()

	for range 7 {
		p.Process(constQuantum(0.1))
	}

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer side was not woken")
	}
}

func TestOverrunOverwrites(t *testing.T) {
	t.Parallel()

	r := newRegion(t)
	p := New(Options{})
	require.NoError(t, p.Attach(r))

	for range 7 {
		p.Process(constQuantum(0.1))
	}
	for range 7 {
		p.Process(constQuantum(0.2))
	}

	st := p.Stats()
	assert.Equal(t, uint64(1), st.Signals)
	assert.Equal(t, uint64(1), st.Overruns)
	assert.InDelta(t, Scale(0.2), r.Samples().Load(0), 0, "undrained cycle is overwritten")
}

func TestDetachedFastPath(t *testing.T) {
	t.Parallel()

	p := New(Options{})
	for range 10 {
		p.Process(constQuantum(0.5))
	}

	st := p.Stats()
	assert.Equal(t, uint64(10), st.Quanta)
	assert.Equal(t, uint64(10), st.Detached)
	assert.Zero(t, st.Signals)
	assert.Equal(t, 3, p.WriteIndex(), "index bookkeeping continues while detached")

	r := newRegion(t)
	require.NoError(t, p.Attach(r))
	p.Detach()
	p.Process(constQuantum(0.5))
	assert.InDelta(t, 0, r.Samples().Load(0), 0, "detached producer does not write")
}

func TestRejectsWrongQuantumSize(t *testing.T) {
	t.Parallel()

	r := newRegion(t)
	p := New(Options{})
	require.NoError(t, p.Attach(r))

	p.Process(make([]float32, 64))
	p.Process(make([]float32, 1200))

	st := p.Stats()
	assert.Equal(t, uint64(2), st.Rejected)
	assert.Zero(t, st.Quanta)
	assert.Equal(t, 0, p.WriteIndex())
}

func TestAttachChecksCapacity(t *testing.T) {
	t.Parallel()

	small, err := framebuf.Allocate(1024)
	require.NoError(t, err)

	p := New(Options{})
	require.Error(t, p.Attach(small))
	require.Error(t, p.Attach(nil))
	assert.False(t, p.Attached())
}

func TestUnclampedOption(t *testing.T) {
	t.Parallel()

	r := newRegion(t)
	p := New(Options{Unclamped: true})
	require.NoError(t, p.Attach(r))

	p.Process(constQuantum(1.0))
	assert.InDelta(t, 32768, r.Samples().Load(0), 0)
}

func TestProcessDoesNotAllocate(t *testing.T) {
	r := newRegion(t)
	p := New(Options{})
	require.NoError(t, p.Attach(r))
	q := constQuantum(0.25)

	allocs := testing.AllocsPerRun(100, func() {
		p.Process(q)
	})
	assert.Zero(t, allocs)
}
