package datastore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/events"
	"github.com/tphakala/hotword-go/internal/logger"
	"github.com/tphakala/hotword-go/internal/observability/metrics"
)

const (
	// MemoryPath opens a private in-memory database.
	MemoryPath = ":memory:"

	defaultSlowThreshold = 200 * time.Millisecond
	defaultWriteTimeout  = 5 * time.Second
	maxRecent            = 1000
)

// Options configures Open.
type Options struct {
	Recorder      metrics.Recorder
	Logger        logger.Logger
	SlowThreshold time.Duration
	Debug         bool
}

// Store persists detections. It implements events.Consumer so it can be
// registered on the session bus directly.
type Store struct {
	db  *gorm.DB
	rec metrics.Recorder
	log logger.Logger
}

// Open opens or creates the database at path and migrates the schema.
func Open(path string, opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("datastore")
	}
	rec := opts.Recorder
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	slow := opts.SlowThreshold
	if slow <= 0 {
		slow = defaultSlowThreshold
	}
	level := gormlogger.Warn
	if opts.Debug {
		level = gormlogger.Info
	}

	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.New(err).
					Component("datastore").
					Category(errors.CategoryFileIO).
					FileContext(dir, 0).
					Build()
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: NewGormLogger(log, rec, slow, level),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Context("path", path).
			Build()
	}

	// a single connection keeps an in-memory database alive and serializes sqlite writes
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Build()
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Detection{}); err != nil {
		_ = sqlDB.Close()
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "migrate").
			Build()
	}

	log.Info("Detection history opened", logger.String("path", path))
	return &Store{db: db, rec: rec, log: log}, nil
}

// Save inserts d.
func (s *Store) Save(ctx context.Context, d *Detection) error {
	start := time.Now()
	err := s.db.WithContext(ctx).Create(d).Error
	s.record(metrics.OpDetectionInsert, start, err)
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_detection").
			Context("session_id", d.SessionID).
			Build()
	}
	return nil
}

// Recent returns up to limit detections, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Detection, error) {
	if limit <= 0 || limit > maxRecent {
		limit = maxRecent
	}
	start := time.Now()
	var out []Detection
	err := s.db.WithContext(ctx).
		Order("detected_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	s.record(metrics.OpDetectionQuery, start, err)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "recent_detections").
			Build()
	}
	return out, nil
}

// CountHotwords returns the number of stored hotword detections since t.
func (s *Store) CountHotwords(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&Detection{}).
		Where("hotword = ? AND detected_at >= ?", true, since).
		Count(&n).Error
	if err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "count_hotwords").
			Build()
	}
	return n, nil
}

// DeleteBefore removes detections older than t and returns how many were removed.
func (s *Store) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("detected_at < ?", t).Delete(&Detection{})
	if res.Error != nil {
		return 0, errors.New(res.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "delete_detections").
			Build()
	}
	return res.RowsAffected, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Name implements events.Consumer.
func (s *Store) Name() string { return "datastore" }

// ProcessEvent implements events.Consumer. Only results are stored.
func (s *Store) ProcessEvent(e events.Event) error {
	if e.Kind != events.KindResult {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	return s.Save(ctx, FromEvent(&e))
}

// FromEvent converts a result event to a detection row.
func FromEvent(e *events.Event) *Detection {
	return &Detection{
		EventID:    e.ID,
		SessionID:  e.SessionID,
		Score:      e.Score,
		Previous:   e.Previous,
		Label:      e.Label,
		Hotword:    e.IsHotword(),
		Cycle:      e.Cycle,
		LatencyUS:  e.Latency.Microseconds(),
		DetectedAt: e.Time,
	}
}

func (s *Store) record(op string, start time.Time, err error) {
	s.rec.RecordDuration(op, time.Since(start).Seconds())
	if err != nil {
		s.rec.RecordOperation(op, metrics.StatusError)
		s.rec.RecordError(op, string(errors.CategoryDatabase))
		return
	}
	s.rec.RecordOperation(op, metrics.StatusSuccess)
}
