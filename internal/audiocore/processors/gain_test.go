package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/hotword-go/internal/audiocore"
)

var (
	_ audiocore.Processor = (*GainProcessor)(nil)
	_ audiocore.Processor = (*DCBlocker)(nil)
)

func TestGainProcessorCreation(t *testing.T) {
	t.Parallel()

	proc, err := NewGainProcessor("test-gain", 1.5)
	require.NoError(t, err)
	assert.Equal(t, "test-gain", proc.ID())
	assert.InDelta(t, 1.5, proc.Gain(), 0.01)

	_, err = NewGainProcessor("test", -1.0)
	require.Error(t, err)

	_, err = NewGainProcessor("test", 11.0)
	require.Error(t, err)
}

func TestGainProcessorApply(t *testing.T) {
	t.Parallel()

	t.Run("unity gain leaves samples", func(t *testing.T) {
		t.Parallel()
		proc, err := NewGainProcessor("g", 1.0)
		require.NoError(t, err)

		q := []float32{0.1, -0.2, 0.3}
		proc.Apply(q)
		assert.Equal(t, []float32{0.1, -0.2, 0.3}, q)
	})

	t.Run("scales", func(t *testing.T) {
		t.Parallel()
		proc, err := NewGainProcessor("g", 2.0)
		require.NoError(t, err)

		q := []float32{0.25, -0.25, 0.4}
		proc.Apply(q)
		assert.InDeltaSlice(t, []float32{0.5, -0.5, 0.8}, q, 1e-6)
		assert.Zero(t, proc.Clipped())
	})

	t.Run("clips", func(t *testing.T) {
		t.Parallel()
		proc, err := NewGainProcessor("g", 3.0)
		require.NoError(t, err)

		q := []float32{0.6, -0.6, 0.1}
		proc.Apply(q)
		assert.InDeltaSlice(t, []float32{1, -1, 0.3}, q, 1e-6)
		assert.Equal(t, uint64(2), proc.Clipped())
	})
}

func TestGainProcessorSetGain(t *testing.T) {
	t.Parallel()

	proc, err := NewGainProcessor("g", 1.0)
	require.NoError(t, err)

	require.NoError(t, proc.SetGain(0.5))
	assert.InDelta(t, 0.5, proc.Gain(), 1e-9)

	require.Error(t, proc.SetGain(10.5))
	assert.InDelta(t, 0.5, proc.Gain(), 1e-9, "rejected gain is not applied")
}

func TestGainApplyDoesNotAllocate(t *testing.T) {
	proc, err := NewGainProcessor("g", 2.0)
	require.NoError(t, err)
	q := make([]float32, 128)

	allocs := testing.AllocsPerRun(100, func() { proc.Apply(q) })
	assert.Zero(t, allocs)
}

func TestDCBlockerRemovesOffset(t *testing.T) {
	t.Parallel()

	d := NewDCBlocker("dc", 0)
	q := make([]float32, 128)
	var last float32
	for range 200 {
		for i := range q {
			q[i] = 0.3
		}
		d.Apply(q)
		last = q[len(q)-1]
	}
	assert.InDelta(t, 0, last, 1e-3)

	d.Reset()
	q[0] = 0.3
	d.Apply(q[:1])
	assert.InDelta(t, 0.3, q[0], 1e-6, "first sample after reset passes through")
}
