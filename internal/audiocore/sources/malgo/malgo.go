// Package malgo captures audio from a sound card through miniaudio.
//
// The device is opened as 16 bit mono at the configured rate; miniaudio converts
// from the hardware format. Captured bytes go straight from the device callback
// to the sink without copying.
package malgo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/hotword-go/internal/audiocore"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/logger"
)

const restartDelay = 100 * time.Millisecond

// Config contains configuration for the sound card source.
type Config struct {
	Device     string // name, decoded ID or "default"
	Backend    string // see the Backend constants
	SampleRate int
	Logger     logger.Logger
}

type sinkRef struct{ audiocore.PCMSink }

// Source implements audiocore.Source using malgo.
type Source struct {
	id  string
	cfg Config
	log logger.Logger

	mu       sync.Mutex
	mctx     *malgo.AllocatedContext
	device   *malgo.Device
	name     string
	running  atomic.Bool
	stopping atomic.Bool

	sink   atomic.Pointer[sinkRef]
	frames atomic.Uint64
	errCh  chan error
}

// NewSource creates a sound card source.
func NewSource(id string, cfg Config) (*Source, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.Newf("sample rate must be positive, got %d", cfg.SampleRate).
			Component("audiocore.malgo").
			Category(errors.CategoryValidation).
			Build()
	}
	if _, err := parseBackend(cfg.Backend); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("audio").Module("malgo")
	}
	return &Source{
		id:    id,
		cfg:   cfg,
		log:   log,
		name:  cfg.Device,
		errCh: make(chan error, 1),
	}, nil
}

// ID implements audiocore.Source.
func (s *Source) ID() string { return s.id }

// Name returns the selected device name once started, otherwise the configured one.
func (s *Source) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Format implements audiocore.Source.
func (s *Source) Format() audiocore.AudioFormat {
	return audiocore.AudioFormat{
		SampleRate: s.cfg.SampleRate,
		Channels:   1,
		BitDepth:   16,
		Encoding:   audiocore.EncodingS16LE,
	}
}

// Errors implements audiocore.ErrorReporter.
func (s *Source) Errors() <-chan error { return s.errCh }

// IsActive implements audiocore.Source.
func (s *Source) IsActive() bool { return s.running.Load() }

// Frames returns the number of frames delivered since creation.
func (s *Source) Frames() uint64 { return s.frames.Load() }

// Start opens the device and begins delivering audio to sink.
func (s *Source) Start(ctx context.Context, sink audiocore.PCMSink) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return errors.New(audiocore.ErrSourceActive).
			Component("audiocore.malgo").
			Category(errors.CategoryState).
			Context("source_id", s.id).
			Build()
	}

	mctx, err := initContext(s.cfg.Backend, func(msg string) {
		s.log.Trace("miniaudio", logger.String("message", msg))
	})
	if err != nil {
		return err
	}

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		_ = mctx.Uninit()
		return errors.New(err).
			Component("audiocore.malgo").
			Category(errors.CategoryAudioSource).
			Context("operation", "enumerate_devices").
			Build()
	}
	idx, err := selectDevice(describe(infos), s.cfg.Device)
	if err != nil {
		_ = mctx.Uninit()
		return err
	}
	info := infos[idx]

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Capture.DeviceID = info.ID.Pointer()
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate) //nolint:gosec // validated positive
	deviceConfig.Alsa.NoMMap = 1

	s.sink.Store(&sinkRef{sink})
	s.stopping.Store(false)

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		_ = mctx.Uninit()
		return errors.New(err).
			Component("audiocore.malgo").
			Category(errors.CategoryAudioSource).
			Context("device_name", info.Name()).
			Context("operation", "init_device").
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		return errors.New(err).
			Component("audiocore.malgo").
			Category(errors.CategoryAudioSource).
			Context("device_name", info.Name()).
			Context("operation", "start_device").
			Build()
	}

	s.mctx = mctx
	s.device = device
	s.name = info.Name()
	s.running.Store(true)

	s.log.Info("Capture started",
		logger.String("device", info.Name()),
		logger.Int("sample_rate", s.cfg.SampleRate))
	return nil
}

// Stop halts capture and releases the device. Stopping an inactive source is a no-op.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.stopping.Store(true)

	var err error
	if s.device != nil {
		if stopErr := s.device.Stop(); stopErr != nil {
			err = errors.New(stopErr).
				Component("audiocore.malgo").
				Category(errors.CategoryAudioSource).
				Context("operation", "stop_device").
				Build()
		}
		s.device.Uninit()
		s.device = nil
	}
	if s.mctx != nil {
		_ = s.mctx.Uninit()
		s.mctx = nil
	}

	s.running.Store(false)
	s.log.Info("Capture stopped", logger.Uint64("frames", s.frames.Load()))
	return err
}

// onData runs on the audio thread.
func (s *Source) onData(_, input []byte, frameCount uint32) {
	s.frames.Add(uint64(frameCount))
	if ref := s.sink.Load(); ref != nil {
		ref.WritePCM(input)
	}
}

// onStop is called when the device stops, either normally or unexpectedly.
func (s *Source) onStop() {
	if s.stopping.Load() {
		return
	}
	s.log.Warn("Capture device stopped unexpectedly, restarting")

	go func() {
		time.Sleep(restartDelay)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopping.Load() || s.device == nil {
			return
		}
		if err := s.device.Start(); err != nil {
			s.report(errors.New(err).
				Component("audiocore.malgo").
				Category(errors.CategoryAudioSource).
				Context("operation", "restart_device").
				Build())
			return
		}
		s.log.Info("Capture device restarted")
	}()
}

func (s *Source) report(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}
