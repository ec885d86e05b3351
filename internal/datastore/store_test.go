package datastore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/hotword-go/internal/events"
	"github.com/tphakala/hotword-go/internal/logger"
	"github.com/tphakala/hotword-go/internal/observability/metrics"
)

type countingRecorder struct {
	mu  sync.Mutex
	ops map[string]int
}

func (r *countingRecorder) RecordOperation(op, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops == nil {
		r.ops = map[string]int{}
	}
	r.ops[op+"/"+status]++
}
func (r *countingRecorder) RecordDuration(string, float64) {}
func (r *countingRecorder) RecordError(string, string)     {}

func (r *countingRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[key]
}

func openMemory(t *testing.T, rec metrics.Recorder) *Store {
	t.Helper()
	s, err := Open(MemoryPath, Options{
		Recorder: rec,
		Logger:   logger.NewSlogLogger(nil, logger.LogLevelError),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func resultEvent(score int, at time.Time) events.Event {
	e := events.NewEvent(events.KindResult, "session-1", "")
	e.Score = score
	e.Label = "computer"
	e.Latency = 1500 * time.Microsecond
	e.Time = at
	return e
}

func TestStoreSavesResultEvents(t *testing.T) {
	t.Parallel()

	rec := &countingRecorder{}
	s := openMemory(t, rec)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.ProcessEvent(resultEvent(0, base)))
	require.NoError(t, s.ProcessEvent(resultEvent(1, base.Add(time.Second))))
	require.NoError(t, s.ProcessEvent(events.NewEvent(events.KindStatus, "session-1", "Ready")))

	got, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 1, got[0].Score, "newest first")
	assert.True(t, got[0].Hotword)
	assert.Equal(t, int64(1500), got[0].LatencyUS)
	assert.Equal(t, "session-1", got[0].SessionID)
	assert.False(t, got[1].Hotword)

	assert.Equal(t, 2, rec.count(metrics.OpDetectionInsert+"/"+metrics.StatusSuccess))

	n, err := s.CountHotwords(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStoreRejectsDuplicateEvent(t *testing.T) {
	t.Parallel()

	rec := &countingRecorder{}
	s := openMemory(t, rec)
	e := resultEvent(2, time.Now())

	require.NoError(t, s.ProcessEvent(e))
	require.Error(t, s.ProcessEvent(e))
	assert.Equal(t, 1, rec.count(metrics.OpDetectionInsert+"/"+metrics.StatusError))
}

func TestStoreDeleteBefore(t *testing.T) {
	t.Parallel()

	s := openMemory(t, nil)
	now := time.Now()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, FromEvent(ptr(resultEvent(1, now.Add(-48*time.Hour))))))
	require.NoError(t, s.Save(ctx, FromEvent(ptr(resultEvent(1, now)))))

	n, err := s.DeleteBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpenCreatesDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "hotword.db")
	s, err := Open(path, Options{Logger: logger.NewSlogLogger(nil, logger.LogLevelError)})
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), FromEvent(ptr(resultEvent(1, time.Now())))))
	require.NoError(t, s.Close())

	// reopening keeps the history
	s, err = Open(path, Options{Logger: logger.NewSlogLogger(nil, logger.LogLevelError)})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	got, err := s.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func ptr[T any](v T) *T { return &v }
