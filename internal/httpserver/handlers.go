package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/hotword-go/internal/bridge"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/events"
	"github.com/tphakala/hotword-go/internal/logger"
)

type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

// resultFrame is the event stream payload for results: the control message
// plus the event it came from.
type resultFrame struct {
	bridge.Message
	Event events.Event `json:"event"`
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"sse_clients":    s.broker.ClientCount(),
	})
}

func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) startSession(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.StartTimeout)
	defer cancel()

	if err := s.session.Start(ctx); err != nil {
		return s.sessionError(c, err)
	}
	return c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) stopSession(c echo.Context) error {
	if err := s.session.Stop(); err != nil {
		return s.sessionError(c, err)
	}
	return c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) sessionError(c echo.Context, err error) error {
	resp := errorResponse{Error: err.Error()}
	code := http.StatusInternalServerError

	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		resp.Category = ee.GetCategory()
	}
	switch {
	case errors.IsCategory(err, errors.CategoryState):
		code = http.StatusConflict
	case errors.IsCategory(err, errors.CategoryAudioSource),
		errors.IsCategory(err, errors.CategoryModelLoad),
		errors.IsCategory(err, errors.CategoryNetwork),
		errors.IsCategory(err, errors.CategoryNotFound):
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (s *Server) listDetections(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
		}
		limit = n
	}

	rows, err := s.history.Recent(c.Request().Context(), limit)
	if err != nil {
		s.log.Error("Failed to read detection history", logger.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read detection history"})
	}
	return c.JSON(http.StatusOK, rows)
}

// streamEvents serves bus events as Server-Sent Events until the client
// disconnects or the server shuts down.
func (s *Server) streamEvents(c echo.Context) error {
	cl := s.broker.subscribe()
	if cl == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "server shutting down"})
	}
	defer s.broker.unsubscribe(cl)

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	if err := writeSSE(c, "connected", map[string]any{
		"clientId": cl.id,
		"status":   s.session.Status(),
	}); err != nil {
		return nil
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-cl.ch:
			var payload any = e
			if e.Kind == events.KindResult {
				payload = resultFrame{Message: bridge.ResultMessage(e.Score), Event: e}
			}
			if err := writeSSE(c, string(e.Kind), payload); err != nil {
				s.log.Debug("Event stream write failed", logger.String("client_id", cl.id), logger.Error(err))
				return nil
			}
		case <-ticker.C:
			if err := writeSSE(c, "heartbeat", map[string]int64{"timestamp": time.Now().Unix()}); err != nil {
				return nil
			}
		case <-cl.done:
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func writeSSE(c echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
