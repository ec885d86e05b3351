package framebuf

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/hotword-go/internal/errors"
)

func TestAllocate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		bytes   int
		opts    []Option
		wantErr bool
		wantCap int
	}{
		{"default region", DefaultCapacityBytes, nil, false, 1024},
		{"single slot", 4, nil, false, 1},
		{"zero", 0, nil, true, 0},
		{"negative", -4, nil, true, 0},
		{"not multiple of four", 4094, nil, true, 0},
		{"over platform limit", 8192, []Option{WithMaxBytes(4096)}, true, 0},
		{"at platform limit", 4096, []Option{WithMaxBytes(4096)}, false, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := Allocate(tt.bytes, tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryAllocation), "got %v", err)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCap, r.Capacity())
			assert.Equal(t, tt.bytes, r.CapacityBytes())
			assert.Equal(t, StateDrained, r.State().Load())
		})
	}
}

func TestSampleView(t *testing.T) {
	t.Parallel()

	r, err := Allocate(16)
	require.NoError(t, err)
	v := r.Samples()

	v.Store(0, 1.5)
	assert.InDelta(t, 1.5, v.Load(0), 0)

	n := v.StoreAt(2, []float32{7, 8, 9})
	assert.Equal(t, 2, n, "writes past the end are dropped")

	dst := make([]float32, 4)
	assert.Equal(t, 4, v.CopyTo(dst))
	assert.Equal(t, []float32{1.5, 0, 7, 8}, dst)

	assert.Equal(t, 0, v.StoreAt(4, []float32{1}))
	assert.Equal(t, 0, v.StoreAt(-1, []float32{1}))
}

func TestWaitNotEqualReturnsImmediately(t *testing.T) {
	t.Parallel()

	r, err := Allocate(DefaultCapacityBytes)
	require.NoError(t, err)
	r.State().Store(StateReady)

	res, err := r.State().Wait(context.Background(), StateDrained)
	require.NoError(t, err)
	assert.Equal(t, WaitNotEqual, res)
}

func TestWaitWokenByNotify(t *testing.T) {
	t.Parallel()

	r, err := Allocate(DefaultCapacityBytes)
	require.NoError(t, err)
	st := r.State()

	done := make(chan WaitResult, 1)
	go func() {
		res, err := st.Wait(context.Background(), StateDrained)
		assert.NoError(t, err)
		done <- res
	}()

	require.True(t, st.CompareAndSwap(StateDrained, StateReady))
	st.Notify()

	select {
	case res := <-done:
		// WaitNotEqual if the goroutine started after the swap
		assert.Contains(t, []WaitResult{WaitOK, WaitNotEqual}, res)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestWaitCancelled(t *testing.T) {
	t.Parallel()

	r, err := Allocate(DefaultCapacityBytes)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	var waitErr error
	go func() {
		defer wg.Done()
		_, waitErr = r.State().Wait(ctx, StateDrained)
	}()

	cancel()
	wg.Wait()
	assert.ErrorIs(t, waitErr, context.Canceled)
}

func TestNotifyNeverBlocks(t *testing.T) {
	t.Parallel()

	r, err := Allocate(DefaultCapacityBytes)
	require.NoError(t, err)

	// nobody waits; extra notifies coalesce into one pending wake
	for range 100 {
		r.State().Notify()
	}

	res, err := r.State().Wait(context.Background(), StateDrained)
	require.NoError(t, err)
	assert.Equal(t, WaitOK, res, "pending wake is delivered even though state is still 0")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.State().Wait(ctx, StateDrained)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "only one wake was pending")
}

func TestConcurrentOverwriteIsRaceFree(t *testing.T) {
	t.Parallel()

	r, err := Allocate(DefaultCapacityBytes)
	require.NoError(t, err)
	v := r.Samples()

	quantum := make([]float32, 128)
	for i := range quantum {
		quantum[i] = float32(i)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 200 {
			for k := range 7 {
				v.StoreAt(k*128, quantum)
			}
		}
	}()
	go func() {
		defer wg.Done()
		dst := make([]float32, 896)
		for range 200 {
			v.CopyTo(dst)
		}
	}()
	wg.Wait()
}
