// Package tflite runs a TensorFlow Lite keyword classifier over sliding windows of audio.
//
// The model takes one float32 input tensor whose last dimension is the window
// length in samples and produces one float32 output tensor with a probability per
// class. Class 0 is background; classes 1..N are hotwords.
package tflite

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
	tfl "github.com/tphakala/go-tflite"

	"github.com/tphakala/hotword-go/internal/detector"
	"github.com/tphakala/hotword-go/internal/detector/energy"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/logger"
)

const (
	// EngineName is the configuration name of this engine.
	EngineName = "tflite"

	sampleRate    = 16000
	bitsPerSample = 16
)

// Options configures the tflite engine.
type Options struct {
	detector.Config
	// SilenceFloor is the RMS on the int16 scale below which a chunk is reported as silence.
	SilenceFloor float64
	Logger       logger.Logger
}

// Engine loads tflite keyword models.
type Engine struct {
	opts Options
	log  logger.Logger
}

// New returns a tflite engine.
func New(opts Options) *Engine {
	if opts.Gain <= 0 {
		opts.Gain = 1
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("detector").Module(EngineName)
	}
	return &Engine{opts: opts, log: log}
}

// Name implements detector.Engine.
func (e *Engine) Name() string { return EngineName }

// NeedsResources implements detector.Engine.
func (e *Engine) NeedsResources() bool { return true }

// Load implements detector.Engine.
func (e *Engine) Load(ctx context.Context, res detector.Resources) (detector.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(res.ModelPath)
	if err != nil {
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryModelLoad).
			FileContext(res.ModelPath, 0).
			Build()
	}

	labels, err := loadLabels(res.ResourcePath, e.opts.Labels)
	if err != nil {
		return nil, err
	}

	model := tfl.NewModel(data)
	if model == nil {
		return nil, errors.Newf("cannot parse model").
			Component("detector").
			Category(errors.CategoryModelLoad).
			ModelContext(res.ModelPath, EngineName).
			Context("model_size", len(data)).
			Build()
	}

	threads := threadCount(e.opts.Threads)
	options := tfl.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		e.log.Warn("tflite", logger.String("message", msg))
	}, nil)

	interp := tfl.NewInterpreter(model, options)
	if interp == nil {
		options.Delete()
		model.Delete()
		return nil, errors.Newf("cannot create interpreter").
			Component("detector").
			Category(errors.CategoryModelInit).
			ModelContext(res.ModelPath, EngineName).
			Context("threads", threads).
			Build()
	}

	h := &handle{
		model:   model,
		options: options,
		interp:  interp,
		gain:    float32(e.opts.Gain),
		sens:    e.opts.Sensitivity,
		floor:   e.opts.SilenceFloor,
	}

	if status := interp.AllocateTensors(); status != tfl.OK {
		_ = h.Close()
		return nil, errors.Newf("tensor allocation failed: %v", status).
			Component("detector").
			Category(errors.CategoryAllocation).
			ModelContext(res.ModelPath, EngineName).
			Build()
	}

	input := interp.GetInputTensor(0)
	output := interp.GetOutputTensor(0)
	if input == nil || output == nil || input.NumDims() == 0 || output.NumDims() == 0 {
		_ = h.Close()
		return nil, errors.Newf("model has no usable input or output tensor").
			Component("detector").
			Category(errors.CategoryModelInit).
			ModelContext(res.ModelPath, EngineName).
			Build()
	}

	h.input = input.Float32s()
	h.classes = output.Dim(output.NumDims() - 1)
	if len(h.input) == 0 || h.classes < 2 {
		_ = h.Close()
		return nil, errors.Newf("model shape unsupported: window %d, classes %d", len(h.input), h.classes).
			Component("detector").
			Category(errors.CategoryModelInit).
			ModelContext(res.ModelPath, EngineName).
			Build()
	}
	h.win = newWindow(len(h.input))

	hotwords := h.classes - 1
	if len(labels) > 0 && len(labels) != hotwords {
		e.log.Warn("Label count does not match model classes",
			logger.Int("labels", len(labels)),
			logger.Int("hotwords", hotwords))
	}

	h.info = detector.Info{
		Engine:        EngineName,
		SampleRate:    sampleRate,
		Channels:      1,
		BitsPerSample: bitsPerSample,
		Sensitivity:   e.opts.Sensitivity,
		NumHotwords:   hotwords,
	}

	e.log.Info("Model loaded",
		logger.String("path", res.ModelPath),
		logger.Int("window", len(h.input)),
		logger.Int("hotwords", hotwords),
		logger.Int("threads", threads))

	return h, nil
}

type handle struct {
	mu      sync.Mutex
	model   *tfl.Model
	options *tfl.InterpreterOptions
	interp  *tfl.Interpreter
	input   []float32
	classes int
	win     *window
	gain    float32
	sens    float64
	floor   float64
	info    detector.Info
}

// Detect implements detector.Handle.
func (h *handle) Detect(samples []float32) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.interp == nil {
		return detector.ScoreError, errors.Newf("tflite handle used after close").
			Component("detector").
			Category(errors.CategoryState).
			Build()
	}

	rms, ok := energy.RMS(samples)
	if !ok {
		return detector.ScoreError, errors.Newf("non-finite sample in chunk").
			Component("detector").
			Category(errors.CategoryDetection).
			Context("samples", len(samples)).
			Build()
	}
	if rms*float64(h.gain) < h.floor {
		h.win.reset()
		return detector.ScoreSilence, nil
	}

	if err := h.win.push(samples); err != nil {
		return detector.ScoreError, errors.New(err).
			Component("detector").
			Category(errors.CategoryBuffer).
			Build()
	}
	if !h.win.full() {
		return detector.ScoreNone, nil
	}

	if err := h.win.copyTo(h.input); err != nil {
		return detector.ScoreError, errors.New(err).
			Component("detector").
			Category(errors.CategoryBuffer).
			Build()
	}
	normalize(h.input, h.gain)

	if status := h.interp.Invoke(); status != tfl.OK {
		return detector.ScoreError, errors.Newf("tensor invoke failed: %v", status).
			Component("detector").
			Category(errors.CategoryDetection).
			Build()
	}

	probs := h.interp.GetOutputTensor(0).Float32s()
	return decide(probs, h.sens), nil
}

func (h *handle) Info() detector.Info { return h.info }

// Close releases the interpreter and model. It is safe to call more than once.
func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.interp != nil {
		h.interp.Delete()
		h.interp = nil
	}
	if h.options != nil {
		h.options.Delete()
		h.options = nil
	}
	if h.model != nil {
		h.model.Delete()
		h.model = nil
	}
	h.input = nil
	return nil
}

// normalize maps int16 scaled samples to [-1, 1] after applying gain.
func normalize(buf []float32, gain float32) {
	const scale = 1.0 / 32768.0
	for i, s := range buf {
		v := s * gain * scale
		switch {
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		buf[i] = v
	}
}

// decide returns the hotword index with the highest probability when it reaches
// the sensitivity, or ScoreNone. probs[0] is the background class.
func decide(probs []float32, sensitivity float64) int {
	best, bestProb := 0, float32(0)
	for i, p := range probs {
		if i == 0 || p <= bestProb {
			continue
		}
		best, bestProb = i, p
	}
	if best == 0 || float64(bestProb) < sensitivity {
		return detector.ScoreNone
	}
	if len(probs) > 0 && probs[0] > bestProb {
		return detector.ScoreNone
	}
	return best
}

// threadCount picks the interpreter thread count. Zero selects the number of
// performance cores reported by the CPU, falling back to logical cores.
func threadCount(configured int) int {
	system := runtime.NumCPU()
	if configured > 0 {
		return min(configured, system)
	}

	cores := cpuid.CPU.PhysicalCores
	if cores <= 0 {
		cores = cpuid.CPU.LogicalCores
	}
	if cores <= 0 {
		cores = system
	}
	return max(1, min(cores, system))
}

// loadLabels reads one label per line from path. A missing path falls back to defaults.
func loadLabels(path string, defaults []string) ([]string, error) {
	if path == "" {
		return defaults, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults, nil
		}
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	return parseLabels(data, defaults), nil
}

func parseLabels(data []byte, defaults []string) []string {
	var labels []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if len(labels) == 0 {
		return defaults
	}
	return labels
}
