// Package events carries session events from the bridge to output consumers.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies an event.
type Kind string

const (
	KindResult Kind = "result" // changed detection score
	KindStatus Kind = "status" // lifecycle status text ("Loading...", "Ready")
	KindError  Kind = "error"  // user visible failure
)

// Event is one item published on the bus.
type Event struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id,omitempty"`
	Kind      Kind          `json:"kind"`
	Score     int           `json:"score"`
	Previous  int           `json:"previous"`
	Label     string        `json:"label,omitempty"`
	Text      string        `json:"text"`
	State     string        `json:"state,omitempty"`
	Category  string        `json:"category,omitempty"`
	Cycle     uint64        `json:"cycle,omitempty"`
	Latency   time.Duration `json:"latency_ns,omitempty"`
	Time      time.Time     `json:"time"`
}

// NewEvent returns an event of kind with a fresh ID and timestamp.
func NewEvent(kind Kind, sessionID, text string) Event {
	return Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Text:      text,
		Time:      time.Now(),
	}
}

// IsHotword reports whether the event is a result naming a detected hotword.
func (e *Event) IsHotword() bool {
	return e.Kind == KindResult && e.Score > 0
}

// Consumer receives events from the bus worker. ProcessEvent is called
// sequentially, in publish order.
type Consumer interface {
	Name() string
	ProcessEvent(event Event) error
}

// Stats are bus counters.
type Stats struct {
	EventsReceived   uint64
	EventsSuppressed uint64
	EventsProcessed  uint64
	EventsDropped    uint64
	ConsumerErrors   uint64
}
