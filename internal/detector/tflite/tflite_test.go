package tflite

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/hotword-go/internal/detector"
	"github.com/tphakala/hotword-go/internal/errors"
)

func seq(from, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(from + i)
	}
	return out
}

func TestWindowSlides(t *testing.T) {
	t.Parallel()

	w := newWindow(8)
	require.NoError(t, w.push(seq(0, 5)))
	assert.False(t, w.full())

	require.NoError(t, w.push(seq(5, 5)))
	require.True(t, w.full())

	dst := make([]float32, 8)
	require.NoError(t, w.copyTo(dst))
	assert.Equal(t, seq(2, 8), dst, "oldest samples are discarded")

	// copyTo does not consume
	require.NoError(t, w.copyTo(dst))
	assert.Equal(t, seq(2, 8), dst)

	require.NoError(t, w.push(seq(100, 20)))
	require.NoError(t, w.copyTo(dst))
	assert.Equal(t, seq(112, 8), dst, "oversized chunk keeps its tail")

	w.reset()
	assert.False(t, w.full())
}

func TestDecide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probs []float32
		sens  float64
		want  int
	}{
		{"background wins", []float32{0.9, 0.05, 0.05}, 0.5, detector.ScoreNone},
		{"first hotword", []float32{0.1, 0.8, 0.1}, 0.5, 1},
		{"second hotword", []float32{0.1, 0.2, 0.7}, 0.5, 2},
		{"below sensitivity", []float32{0.3, 0.4, 0.3}, 0.5, detector.ScoreNone},
		{"low sensitivity accepts", []float32{0.3, 0.4, 0.3}, 0.35, 1},
		{"empty", nil, 0.5, detector.ScoreNone},
		{"background only", []float32{1}, 0.5, detector.ScoreNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, decide(tt.probs, tt.sens))
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	buf := []float32{16384, -32768, 32767, 0}
	normalize(buf, 2)
	assert.InDelta(t, 1.0, buf[0], 1e-6)
	assert.InDelta(t, -1.0, buf[1], 1e-6)
	assert.InDelta(t, 1.0, buf[2], 1e-6, "clipped")
	assert.Zero(t, buf[3])
}

func TestThreadCount(t *testing.T) {
	t.Parallel()

	n := runtime.NumCPU()
	assert.Equal(t, 1, threadCount(1))
	assert.Equal(t, n, threadCount(n+100), "capped at system cpus")

	auto := threadCount(0)
	assert.GreaterOrEqual(t, auto, 1)
	assert.LessOrEqual(t, auto, n)
}

func TestLabels(t *testing.T) {
	t.Parallel()

	defaults := []string{"hotword"}
	assert.Equal(t, []string{"alexa", "snowboy"}, parseLabels([]byte("# labels\nalexa\n\n snowboy \n"), defaults))
	assert.Equal(t, defaults, parseLabels([]byte("\n# nothing\n"), defaults))

	got, err := loadLabels("", defaults)
	require.NoError(t, err)
	assert.Equal(t, defaults, got)

	got, err = loadLabels(filepath.Join(t.TempDir(), "missing.res"), defaults)
	require.NoError(t, err)
	assert.Equal(t, defaults, got)

	path := filepath.Join(t.TempDir(), "common.res")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0o600))
	got, err = loadLabels(path, defaults)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestLoadMissingModel(t *testing.T) {
	t.Parallel()

	e := New(Options{Config: detector.Config{Sensitivity: 0.5}})
	assert.Equal(t, EngineName, e.Name())
	assert.True(t, e.NeedsResources())

	_, err := e.Load(context.Background(), detector.Resources{
		ModelPath: filepath.Join(t.TempDir(), "absent.tflite"),
	})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
}

func TestLoadGarbageModel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "garbage.tflite")
	require.NoError(t, os.WriteFile(path, []byte("not a flatbuffer"), 0o600))

	_, err := New(Options{}).Load(context.Background(), detector.Resources{ModelPath: path})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
}
