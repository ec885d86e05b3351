package audiocore

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"

	"github.com/tphakala/hotword-go/internal/errors"
)

const int16Scale = 1.0 / 32768.0

// Quantizer slices an S16LE mono byte stream into fixed size quanta of
// normalized float32 samples, runs the processors over each quantum and hands
// it to the sink. WritePCM does not allocate. A Quantizer is used by one
// capture thread at a time; the level accessors may be called concurrently.
type Quantizer struct {
	sink    QuantumSink
	procs   []Processor
	quantum []float32
	fill    int

	carry    byte
	hasCarry bool

	quanta atomic.Uint64
	level  atomic.Uint32 // float32 bits of the last quantum's RMS
	lastAt atomic.Int64  // unix nanos of the last quantum
}

// NewQuantizer returns a quantizer emitting quanta of size samples to sink.
func NewQuantizer(size int, sink QuantumSink, procs ...Processor) (*Quantizer, error) {
	if size <= 0 || sink == nil {
		return nil, errors.Newf("quantizer needs a positive size and a sink, got size %d", size).
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Build()
	}
	return &Quantizer{
		sink:    sink,
		procs:   procs,
		quantum: make([]float32, size),
	}, nil
}

// WritePCM implements PCMSink. A trailing odd byte is kept for the next call.
func (q *Quantizer) WritePCM(data []byte) {
	if len(data) == 0 {
		return
	}

	if q.hasCarry {
		q.push(int16(uint16(q.carry) | uint16(data[0])<<8))
		q.hasCarry = false
		data = data[1:]
	}

	n := len(data) &^ 1
	for i := 0; i < n; i += 2 {
		q.push(int16(binary.LittleEndian.Uint16(data[i:])))
	}

	if n < len(data) {
		q.carry = data[n]
		q.hasCarry = true
	}
}

// WriteSamples feeds already decoded int16 samples.
func (q *Quantizer) WriteSamples(samples []int16) {
	for _, s := range samples {
		q.push(s)
	}
}

func (q *Quantizer) push(s int16) {
	q.quantum[q.fill] = float32(s) * int16Scale
	q.fill++
	if q.fill == len(q.quantum) {
		q.emit()
	}
}

func (q *Quantizer) emit() {
	for _, p := range q.procs {
		p.Apply(q.quantum)
	}

	var sum float64
	for _, s := range q.quantum {
		sum += float64(s) * float64(s)
	}
	q.level.Store(math.Float32bits(float32(math.Sqrt(sum / float64(len(q.quantum))))))
	q.lastAt.Store(time.Now().UnixNano())
	q.quanta.Add(1)

	q.sink.Process(q.quantum)
	q.fill = 0
}

// Reset drops any partially filled quantum.
func (q *Quantizer) Reset() {
	q.fill = 0
	q.hasCarry = false
}

// Size returns the quantum size in samples.
func (q *Quantizer) Size() int {
	return len(q.quantum)
}

// Quanta returns the number of quanta emitted.
func (q *Quantizer) Quanta() uint64 {
	return q.quanta.Load()
}

// Level returns the RMS of the last emitted quantum in [0, 1].
func (q *Quantizer) Level() float64 {
	return float64(math.Float32frombits(q.level.Load()))
}

// LastQuantumAt returns when the last quantum was emitted, or the zero time.
func (q *Quantizer) LastQuantumAt() time.Time {
	ns := q.lastAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
