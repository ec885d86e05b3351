// Package datastore keeps the detection history in SQLite through GORM.
package datastore

import "time"

// Detection is one changed detection result.
type Detection struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventID    string    `gorm:"uniqueIndex;size:36" json:"event_id"`
	SessionID  string    `gorm:"index;size:36" json:"session_id"`
	Score      int       `json:"score"`
	Previous   int       `json:"previous"`
	Label      string    `gorm:"size:64" json:"label"`
	Hotword    bool      `gorm:"index" json:"hotword"`
	Cycle      uint64    `json:"cycle"`
	LatencyUS  int64     `json:"latency_us"`
	DetectedAt time.Time `gorm:"index" json:"detected_at"`
	CreatedAt  time.Time `json:"-"`
}
