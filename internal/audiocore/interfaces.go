// Package audiocore connects capture sources to the frame handoff.
//
// Architecture overview:
//
//	Source -> Quantizer -> Processors -> Producer -> framebuf.Region -> Consumer -> detector.Handle
//
// Key interfaces:
//   - Source: audio input (sound card, WAV file)
//   - PCMSink: receives little endian S16 mono bytes from a source
//   - QuantumSink: receives fixed size float32 quanta (the producer)
//   - Processor: in place transformation of one quantum (gain)
package audiocore

import (
	"context"
)

// Audio encodings.
const (
	EncodingS16LE = "pcm_s16le"
	EncodingF32LE = "pcm_f32le"
)

// AudioFormat describes the PCM stream a source delivers.
type AudioFormat struct {
	SampleRate int    // Sample rate in Hz (e.g., 16000)
	Channels   int    // Number of channels, always 1 after conversion
	BitDepth   int    // Bits per sample (e.g., 16)
	Encoding   string // Encoding format (e.g., "pcm_s16le")
}

// BytesPerSample returns the size of one sample in bytes.
func (f AudioFormat) BytesPerSample() int {
	return f.BitDepth / 8
}

// PCMSink receives interleaved little endian PCM bytes. WritePCM is called from
// the capture thread and must not block or allocate.
type PCMSink interface {
	WritePCM(data []byte)
}

// QuantumSink receives quanta of normalized float32 samples in [-1, 1].
// The slice is only valid for the duration of the call.
type QuantumSink interface {
	Process(quantum []float32)
}

// Processor transforms one quantum in place.
type Processor interface {
	ID() string
	Apply(quantum []float32)
}

// Source represents an audio input.
type Source interface {
	// ID returns a unique identifier for this source
	ID() string

	// Name returns a human readable name for this source
	Name() string

	// Format returns the PCM format delivered to the sink
	Format() AudioFormat

	// Start begins delivering audio to sink. It returns once capture is running.
	Start(ctx context.Context, sink PCMSink) error

	// Stop halts capture. Stopping an inactive source is a no-op.
	Stop() error

	// IsActive returns true if the source is currently capturing
	IsActive() bool
}

// Finisher is implemented by sources with a natural end, such as files.
// Done is closed once the last sample has been delivered.
type Finisher interface {
	Done() <-chan struct{}
}

// ErrorReporter is implemented by sources that fail asynchronously, such as a
// capture device that stops and cannot be restarted.
type ErrorReporter interface {
	Errors() <-chan error
}
