package events

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultDedupTTL is how long an identical status or error stays suppressed.
const DefaultDedupTTL = 30 * time.Second

// Deduplicator suppresses identical events seen within a TTL. A capture
// device that keeps failing reports once per TTL instead of once per retry.
type Deduplicator struct {
	seen *cache.Cache
}

// NewDeduplicator returns a deduplicator with the given TTL.
func NewDeduplicator(ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	// No janitor goroutine: Add already treats expired keys as absent.
	return &Deduplicator{seen: cache.New(ttl, 0)}
}

// ShouldProcess records event and reports whether it is new. A nil
// Deduplicator lets everything through.
func (d *Deduplicator) ShouldProcess(event *Event) bool {
	if d == nil {
		return true
	}
	key := event.SessionID + "|" + string(event.Kind) + "|" + event.State + "|" + event.Text
	return d.seen.Add(key, struct{}{}, cache.DefaultExpiration) == nil
}

// Reset forgets all recorded events.
func (d *Deduplicator) Reset() {
	if d != nil {
		d.seen.Flush()
	}
}
