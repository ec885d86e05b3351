package analysis

import (
	"context"

	"github.com/tphakala/hotword-go/internal/conf"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/httpserver"
	"github.com/tphakala/hotword-go/internal/logger"
)

// RealtimeAnalysis captures from the configured device until ctx is done.
//
// With the web server enabled a failed session start is logged and the
// process keeps serving, so the session can be restarted over the API.
// Without it the start error is returned.
func RealtimeAnalysis(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("analysis")

	p, err := NewPipeline(settings, Options{
		NewSource: SoundcardSource(&settings.Audio),
		Logger:    log,
	})
	if err != nil {
		return err
	}
	p.Start(ctx)
	defer p.Close()

	var srv *httpserver.Server
	if settings.WebServer.Enabled {
		opts := []httpserver.Option{
			httpserver.WithMetrics(p.Metrics.Handler()),
			httpserver.WithLogger(log.Module("httpserver")),
		}
		if p.Store != nil {
			opts = append(opts, httpserver.WithHistory(p.Store))
		}
		srv, err = httpserver.New(httpserver.Config{Listen: settings.WebServer.Listen}, p.Bridge, opts...)
		if err != nil {
			return err
		}
		if err := p.Bus.RegisterConsumer(srv.Broker()); err != nil {
			return err
		}
		srv.Start()
		defer func() {
			if err := srv.Shutdown(); err != nil {
				log.Warn("HTTP server shutdown failed", logger.Error(err))
			}
		}()
	}

	log.Info("Starting realtime detection",
		logger.String("engine", settings.Detector.Engine),
		logger.String("source", settings.Audio.Source),
		logger.Int("sample_rate", settings.Audio.SampleRate),
		logger.Int("frames_per_signal", settings.Audio.LogicalFrames()))

	if err := p.Bridge.Start(ctx); err != nil {
		if srv == nil || errors.Is(err, context.Canceled) {
			return err
		}
		log.Error("Detection session failed to start, waiting for API control", logger.Error(err))
	}

	<-ctx.Done()
	log.Info("Shutting down")
	return nil
}
