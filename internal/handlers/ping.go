// Package handlers holds the HTTP handlers mounted on the shared server.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// PingHandler answers liveness probes with the service identity and uptime.
type PingHandler struct {
	startedAt time.Time
	logger    *slog.Logger
}

func NewPingHandler(log *slog.Logger) *PingHandler {
	return &PingHandler{
		startedAt: time.Now(),
		logger:    log.With(slog.String("handler", "ping")),
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "chatwire",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
