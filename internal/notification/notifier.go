// Package notification sends push notifications through shoutrrr when a
// hotword is detected or capture fails.
package notification

import (
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/tphakala/hotword-go/internal/conf"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/events"
	"github.com/tphakala/hotword-go/internal/logger"
	"github.com/tphakala/hotword-go/internal/observability/metrics"
)

const defaultSendTimeout = 10 * time.Second

// Sender delivers one message to every configured service.
// *router.ServiceRouter implements it.
type Sender interface {
	Send(message string, params *types.Params) []error
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithRecorder records notification operations.
func WithRecorder(r metrics.Recorder) Option {
	return func(n *Notifier) { n.recorder = r }
}

// WithLogger sets the notifier logger.
func WithLogger(log logger.Logger) Option {
	return func(n *Notifier) { n.log = log }
}

// WithSender replaces the shoutrrr router built from the URLs.
func WithSender(s Sender) Option {
	return func(n *Notifier) { n.sender = s }
}

// Notifier is an events.Consumer that turns hotword hits and capture
// failures into push notifications, at most one per MinInterval.
type Notifier struct {
	sender   Sender
	title    string
	limiter  *rate.Limiter
	recorder metrics.Recorder
	log      logger.Logger

	sent       atomic.Uint64
	suppressed atomic.Uint64
}

// New creates a notifier from settings. Without WithSender the shoutrrr
// router is built from settings.URLs, which must not be empty.
func New(settings *conf.NotificationSettings, opts ...Option) (*Notifier, error) {
	n := &Notifier{
		title:    settings.Title,
		recorder: metrics.NopRecorder{},
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = logger.Global().Module("notification")
	}
	if n.title == "" {
		n.title = "Hotword detected"
	}

	limit := rate.Inf
	if settings.MinInterval > 0 {
		limit = rate.Every(settings.MinInterval)
	}
	n.limiter = rate.NewLimiter(limit, 1)

	if n.sender == nil {
		if len(settings.URLs) == 0 {
			return nil, errors.Newf("notifications enabled without any service URL").
				Component("notification").
				Category(errors.CategoryConfiguration).
				Build()
		}
		router, err := shoutrrr.CreateSender(settings.URLs...)
		if err != nil {
			return nil, errors.New(redact(err)).
				Component("notification").
				Category(errors.CategoryConfiguration).
				Context("services", len(settings.URLs)).
				Build()
		}
		router.Timeout = defaultSendTimeout
		router.SetLogger(log.New(io.Discard, "", 0))
		n.sender = router
	}
	return n, nil
}

// Name implements events.Consumer.
func (n *Notifier) Name() string {
	return "notification"
}

// ProcessEvent implements events.Consumer.
func (n *Notifier) ProcessEvent(e events.Event) error {
	var message string
	switch {
	case e.Kind == events.KindResult && e.IsHotword():
		label := e.Label
		if label == "" {
			label = fmt.Sprintf("#%d", e.Score)
		}
		message = fmt.Sprintf("Hotword %s detected at %s", label, e.Time.Format(time.TimeOnly))
	case e.Kind == events.KindError:
		message = fmt.Sprintf("Detection session error: %s", e.Text)
		if e.Category != "" {
			message += " (" + e.Category + ")"
		}
	default:
		return nil
	}

	if !n.limiter.Allow() {
		n.suppressed.Add(1)
		n.log.Debug("Notification suppressed by rate limit", logger.String("kind", string(e.Kind)))
		return nil
	}
	return n.send(message)
}

func (n *Notifier) send(message string) error {
	params := types.Params{}
	params.SetTitle(n.title)

	start := time.Now()
	errs := n.sender.Send(message, &params)
	n.recorder.RecordDuration(metrics.OpNotify, time.Since(start).Seconds())

	var sendErr error
	for _, err := range errs {
		if err != nil {
			sendErr = errors.Join(sendErr, redact(err))
		}
	}
	if sendErr != nil {
		n.recorder.RecordOperation(metrics.OpNotify, metrics.StatusError)
		n.recorder.RecordError(metrics.OpNotify, string(errors.CategoryIntegration))
		return errors.New(sendErr).
			Component("notification").
			Category(errors.CategoryIntegration).
			Build()
	}
	n.recorder.RecordOperation(metrics.OpNotify, metrics.StatusSuccess)
	n.sent.Add(1)
	return nil
}

// Sent returns the number of notifications delivered.
func (n *Notifier) Sent() uint64 {
	return n.sent.Load()
}

// Suppressed returns the number of notifications dropped by the rate limit.
func (n *Notifier) Suppressed() uint64 {
	return n.suppressed.Load()
}

var serviceURL = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"']+`)

// redact strips service URLs, which carry tokens, from an error message.
func redact(err error) error {
	msg := serviceURL.ReplaceAllStringFunc(err.Error(), func(u string) string {
		scheme, _, _ := strings.Cut(u, "://")
		return scheme + "://[redacted]"
	})
	return errors.NewStd(msg)
}
