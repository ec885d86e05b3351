// Package wavfile replays a WAV file as an audio source.
package wavfile

import (
	"context"
	"encoding/binary"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/hotword-go/internal/audiocore"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/logger"
)

const defaultChunkFrames = 1024

// Config configures a file source.
type Config struct {
	Path       string
	SampleRate int // required file sample rate
	// Speed scales playback pacing. 1 is real time, 0 delivers as fast as possible.
	Speed       float64
	ChunkFrames int
	Logger      logger.Logger
}

// Info describes a WAV file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Source replays a WAV file.
type Source struct {
	id  string
	cfg Config
	log logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	active  bool
	errCh   chan error
	samples uint64
}

// Probe reads the header of path.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, errors.New(err).
			Component("audiocore.wavfile").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	defer func() { _ = f.Close() }()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return Info{}, errors.New(audiocore.ErrInvalidAudioFormat).
			Component("audiocore.wavfile").
			Category(errors.CategoryValidation).
			Context("path", path).
			Context("error", "not a valid wav file").
			Build()
	}
	dur, err := dec.Duration()
	if err != nil {
		dur = 0
	}
	return Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Duration:   dur,
	}, nil
}

// NewSource validates the file header and returns a source for it.
func NewSource(id string, cfg Config) (*Source, error) {
	info, err := Probe(cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := checkFormat(info, cfg.SampleRate); err != nil {
		return nil, err
	}
	if cfg.ChunkFrames <= 0 {
		cfg.ChunkFrames = defaultChunkFrames
	}
	if cfg.Speed < 0 {
		cfg.Speed = 0
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("audio").Module("wavfile")
	}
	return &Source{id: id, cfg: cfg, log: log, errCh: make(chan error, 1)}, nil
}

func checkFormat(info Info, sampleRate int) error {
	var problem string
	switch {
	case info.BitDepth != 16 && info.BitDepth != 24 && info.BitDepth != 32:
		problem = "unsupported bit depth"
	case info.Channels != 1 && info.Channels != 2:
		problem = "unsupported number of channels"
	case info.SampleRate != sampleRate:
		problem = "sample rate does not match configuration"
	default:
		return nil
	}
	return errors.Newf("%s: %d Hz, %d channels, %d bit", problem, info.SampleRate, info.Channels, info.BitDepth).
		Component("audiocore.wavfile").
		Category(errors.CategoryValidation).
		Context("want_sample_rate", sampleRate).
		Build()
}

// ID implements audiocore.Source.
func (s *Source) ID() string { return s.id }

// Name implements audiocore.Source.
func (s *Source) Name() string { return s.cfg.Path }

// Format implements audiocore.Source.
func (s *Source) Format() audiocore.AudioFormat {
	return audiocore.AudioFormat{
		SampleRate: s.cfg.SampleRate,
		Channels:   1,
		BitDepth:   16,
		Encoding:   audiocore.EncodingS16LE,
	}
}

// IsActive implements audiocore.Source.
func (s *Source) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Done implements audiocore.Finisher. It is nil before Start.
func (s *Source) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Errors implements audiocore.ErrorReporter.
func (s *Source) Errors() <-chan error { return s.errCh }

// Start begins replay. The file is reopened on every start.
func (s *Source) Start(ctx context.Context, sink audiocore.PCMSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return errors.New(audiocore.ErrSourceActive).
			Component("audiocore.wavfile").
			Category(errors.CategoryState).
			Context("source_id", s.id).
			Build()
	}

	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return errors.New(err).
			Component("audiocore.wavfile").
			Category(errors.CategoryFileIO).
			FileContext(s.cfg.Path, 0).
			Build()
	}
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		_ = f.Close()
		return errors.New(audiocore.ErrInvalidAudioFormat).
			Component("audiocore.wavfile").
			Context("path", s.cfg.Path).
			Context("error", "not a valid wav file").
			Build()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.active = true
	s.samples = 0

	go s.replay(runCtx, f, dec, sink, s.done)

	s.log.Info("Replay started",
		logger.String("path", s.cfg.Path),
		logger.Float64("speed", s.cfg.Speed))
	return nil
}

// Stop ends replay and waits for it to finish.
func (s *Source) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Samples returns the number of samples delivered by the current or last replay.
func (s *Source) Samples() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

func (s *Source) replay(ctx context.Context, f *os.File, dec *wav.Decoder, sink audiocore.PCMSink, done chan struct{}) {
	defer func() {
		_ = f.Close()
		s.mu.Lock()
		s.active = false
		s.cancel = nil
		s.mu.Unlock()
		close(done)
	}()

	channels := int(dec.NumChans)
	shift := uint(dec.BitDepth) - 16
	frames := s.cfg.ChunkFrames

	buf := &audio.IntBuffer{
		Data:   make([]int, frames*channels),
		Format: &audio.Format{SampleRate: int(dec.SampleRate), NumChannels: channels},
	}
	out := make([]byte, frames*2)

	var ticker *time.Ticker
	if s.cfg.Speed > 0 {
		period := time.Duration(float64(frames) / float64(dec.SampleRate) / s.cfg.Speed * float64(time.Second))
		ticker = time.NewTicker(period)
		defer ticker.Stop()
	}

	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			s.report(errors.New(err).
				Component("audiocore.wavfile").
				Category(errors.CategoryAudioSource).
				Context("operation", "decode").
				Build())
			return
		}
		if n == 0 {
			s.log.Info("Replay finished", logger.Uint64("samples", s.Samples()))
			return
		}

		count := 0
		for i := 0; i+channels <= n; i += channels {
			binary.LittleEndian.PutUint16(out[count*2:], uint16(downmix(buf.Data[i:i+channels], shift)))
			count++
		}
		sink.WritePCM(out[:count*2])

		s.mu.Lock()
		s.samples += uint64(count)
		s.mu.Unlock()

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		} else if ctx.Err() != nil {
			return
		}
	}
}

// downmix averages one frame and reduces it to 16 bits.
func downmix(frame []int, shift uint) int16 {
	var sum int
	for _, v := range frame {
		sum += v >> shift
	}
	v := sum / len(frame)
	switch {
	case v > 32767:
		v = 32767
	case v < -32768:
		v = -32768
	}
	return int16(v)
}

func (s *Source) report(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}
