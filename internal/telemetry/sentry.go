// Package telemetry initializes opt-in error reporting to Sentry.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/hotword-go/internal/buildinfo"
	"github.com/tphakala/hotword-go/internal/conf"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/logger"
)

const flushTimeout = 2 * time.Second

// Options tune Sentry initialization.
type Options struct {
	Build *buildinfo.Context
	// Transport replaces the HTTP transport.
	Transport sentry.Transport
	Logger    logger.Logger
}

// Init starts Sentry when telemetry is enabled in settings and routes enhanced
// errors to it. The returned function flushes pending events and must be
// called before exit. With telemetry disabled Init is a no-op.
func Init(settings *conf.SentrySettings, opts Options) (func(), error) {
	if !settings.Enabled {
		return func() {}, nil
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("telemetry")
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          opts.Build.Release(),
		Transport:        opts.Transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return nil, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("Error telemetry enabled", logger.String("release", opts.Build.Release()))

	return func() {
		errors.SetTelemetryReporter(nil)
		if !sentry.Flush(flushTimeout) {
			log.Warn("Timed out flushing telemetry events")
		}
	}, nil
}

// applyPrivacyFilters strips host identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil
	event.Modules = nil

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
