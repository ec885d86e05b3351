package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/hotword-go/internal/errors"
)

func TestLabel(t *testing.T) {
	t.Parallel()

	labels := []string{"snowboy", "alexa"}
	tests := []struct {
		score int
		want  string
	}{
		{ScoreSilence, "silence"},
		{ScoreError, "error"},
		{ScoreNone, "none"},
		{1, "snowboy"},
		{2, "alexa"},
		{3, "hotword 3"},
		{-7, "status -7"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Label(tt.score, labels), "score %d", tt.score)
	}

	assert.True(t, IsHotword(1))
	assert.False(t, IsHotword(ScoreNone))
	assert.False(t, IsHotword(ScoreSilence))
}

func TestHeapAllocator(t *testing.T) {
	t.Parallel()

	a := &HeapAllocator{MaxSamples: 1024}

	buf, err := a.Alloc(896)
	require.NoError(t, err)
	assert.Len(t, buf, 896)
	assert.Equal(t, uint64(1), a.Allocs())

	a.Free(buf)
	a.Free(nil)
	assert.Equal(t, uint64(1), a.Frees())

	_, err = a.Alloc(2048)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAllocation))

	_, err = a.Alloc(0)
	require.Error(t, err)
	assert.Equal(t, uint64(1), a.Allocs())
}
