package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chatwire/chatwire/internal/ai"
)

// StatusHandler exposes AI availability introspection.
type StatusHandler struct {
	ai     *ai.Service
	logger *slog.Logger
}

func NewStatusHandler(log *slog.Logger, svc *ai.Service) *StatusHandler {
	return &StatusHandler{ai: svc, logger: log.With(slog.String("handler", "status"))}
}

func (h *StatusHandler) Register(e *echo.Echo) {
	e.GET("/api/ai/status", h.Status)
}

func (h *StatusHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.ai.GetStatus(c.Request().Context()))
}
