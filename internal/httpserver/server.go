// Package httpserver serves the session status and control API, the live
// event stream and Prometheus metrics over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/hotword-go/internal/bridge"
	"github.com/tphakala/hotword-go/internal/datastore"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/logger"
)

const (
	defaultReadTimeout     = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultStartTimeout    = 2 * time.Minute
	defaultBodyLimit       = "64K"
	heartbeatInterval      = 30 * time.Second
)

// Session is the detection session the API controls. bridge.Bridge implements it.
type Session interface {
	Start(ctx context.Context) error
	Stop() error
	Status() bridge.Status
}

// History serves stored detections. datastore.Store implements it.
type History interface {
	Recent(ctx context.Context, limit int) ([]datastore.Detection, error)
}

// Config configures the server.
type Config struct {
	Listen          string
	ShutdownTimeout time.Duration
	// StartTimeout bounds a session start request, which includes the model download.
	StartTimeout time.Duration
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithMetrics serves handler at /metrics.
func WithMetrics(handler http.Handler) Option {
	return func(s *Server) { s.metrics = handler }
}

// WithHistory serves the detection history.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) { s.log = log }
}

// Server is the HTTP API.
type Server struct {
	echo    *echo.Echo
	cfg     Config
	session Session
	broker  *Broker
	history History
	metrics http.Handler
	log     logger.Logger

	startTime time.Time
	wg        sync.WaitGroup
}

// New creates a server. Register Broker on the event bus to feed the event stream.
func New(cfg Config, session Session, opts ...Option) (*Server, error) {
	if session == nil {
		return nil, errors.Newf("http server needs a session").
			Component("httpserver").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}

	s := &Server{
		cfg:       cfg,
		session:   session,
		broker:    NewBroker(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("httpserver")
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = defaultReadTimeout
	s.echo.Server.IdleTimeout = defaultIdleTimeout
	// no write timeout: event streams stay open

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(requestLogger(s.log))
	s.echo.Use(middleware.BodyLimit(defaultBodyLimit))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)
	api.POST("/session/start", s.startSession)
	api.POST("/session/stop", s.stopSession)
	api.GET("/events", s.streamEvents, middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      10,
			ExpiresIn: time.Minute,
		}),
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "too many event stream connections"})
		},
	}))
	if s.history != nil {
		api.GET("/detections", s.listDetections)
	}
}

// Broker returns the event stream broker.
func (s *Server) Broker() *Broker {
	return s.broker
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start serves in the background and returns immediately.
func (s *Server) Start() {
	s.wg.Go(func() {
		s.log.Info("HTTP server starting", logger.String("address", s.cfg.Listen))
		if err := s.echo.Start(s.cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", logger.Error(err))
		}
	})
}

// Shutdown disconnects event streams and stops the server.
func (s *Server) Shutdown() error {
	s.broker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := s.echo.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return errors.New(err).
			Component("httpserver").
			Category(errors.CategoryNetwork).
			Context("operation", "shutdown").
			Build()
	}
	s.log.Info("HTTP server stopped")
	return nil
}
