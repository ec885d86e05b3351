package tflite

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/smallnest/ringbuffer"
)

// window keeps the most recent size samples as little endian float32 bytes.
// Chunks shorter than the model input accumulate; once full, the oldest samples
// are discarded to make room for each new chunk.
type window struct {
	size    int
	rb      *ringbuffer.RingBuffer
	encoded []byte
	discard []byte
	raw     []byte
}

func newWindow(size int) *window {
	return &window{
		size:    size,
		rb:      ringbuffer.New(size * 4),
		encoded: make([]byte, 0, size*4),
		discard: make([]byte, size*4),
		raw:     make([]byte, size*4),
	}
}

// push appends samples, keeping only the newest size samples.
func (w *window) push(samples []float32) error {
	if len(samples) > w.size {
		samples = samples[len(samples)-w.size:]
	}

	w.encoded = w.encoded[:0]
	for _, s := range samples {
		w.encoded = binary.LittleEndian.AppendUint32(w.encoded, math.Float32bits(s))
	}

	if over := len(w.encoded) - w.rb.Free(); over > 0 {
		if _, err := w.rb.Read(w.discard[:over]); err != nil {
			return fmt.Errorf("window discard: %w", err)
		}
	}

	if _, err := w.rb.Write(w.encoded); err != nil {
		return fmt.Errorf("window write: %w", err)
	}
	return nil
}

// full reports whether size samples are buffered.
func (w *window) full() bool {
	return w.rb.Length() >= w.size*4
}

// copyTo decodes the buffered window into dst without consuming it.
func (w *window) copyTo(dst []float32) error {
	n := w.rb.Length()
	if _, err := w.rb.Read(w.raw[:n]); err != nil {
		return fmt.Errorf("window read: %w", err)
	}
	if _, err := w.rb.Write(w.raw[:n]); err != nil {
		return fmt.Errorf("window restore: %w", err)
	}

	count := min(len(dst), n/4)
	for i := range count {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(w.raw[i*4:]))
	}
	return nil
}

func (w *window) reset() {
	w.rb.Reset()
}
