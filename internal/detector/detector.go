// Package detector defines the keyword engine capability used by the consumer.
//
// An Engine turns downloaded resources into a Handle. A Handle scores one
// chunk of 16-bit scale PCM at a time and is owned by a single goroutine.
package detector

import (
	"context"
	"fmt"
)

// Score codes returned by Handle.Detect. Positive values are 1-based hotword indices.
const (
	ScoreSilence = -2
	ScoreError   = -1
	ScoreNone    = 0
)

// Resources are the local files an engine loads from.
type Resources struct {
	ResourcePath string // engine resource file, may be empty for engines that need none
	ModelPath    string // keyword model file
}

// Config holds tuning applied after load.
type Config struct {
	Gain        float64 // audio gain applied to input samples
	Sensitivity float64 // detection threshold in [0, 1]
	FrontEnd    bool    // engine audio front end processing
	Threads     int     // inference threads, 0 for auto
	Labels      []string
}

// Info describes a loaded handle.
type Info struct {
	Engine        string
	SampleRate    int
	Channels      int
	BitsPerSample int
	Sensitivity   float64
	NumHotwords   int
}

// Engine loads detection handles.
type Engine interface {
	// Name identifies the engine in logs and metrics.
	Name() string
	// NeedsResources reports whether Load reads files from Resources.
	NeedsResources() bool
	// Load creates a handle. It may be slow.
	Load(ctx context.Context, res Resources) (Handle, error)
}

// Handle runs detection. It is not safe for concurrent use.
type Handle interface {
	// Detect scores samples on the int16 amplitude scale.
	Detect(samples []float32) (int, error)
	Info() Info
	Close() error
}

// Label returns a display name for score.
func Label(score int, labels []string) string {
	switch {
	case score == ScoreSilence:
		return "silence"
	case score == ScoreError:
		return "error"
	case score == ScoreNone:
		return "none"
	case score > 0 && score <= len(labels):
		return labels[score-1]
	case score > 0:
		return fmt.Sprintf("hotword %d", score)
	default:
		return fmt.Sprintf("status %d", score)
	}
}

// IsHotword reports whether score names a detected hotword.
func IsHotword(score int) bool {
	return score > 0
}
