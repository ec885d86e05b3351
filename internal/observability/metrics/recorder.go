package metrics

// Recorder is the narrow metrics interface components depend on, so tests can
// substitute an in-memory implementation.
type Recorder interface {
	// RecordOperation counts an operation with its outcome.
	RecordOperation(operation, status string)
	// RecordDuration observes the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)
	// RecordError counts a failed operation by error category.
	RecordError(operation, errorType string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string) {}
func (NopRecorder) RecordDuration(string, float64) {}
func (NopRecorder) RecordError(string, string)     {}
