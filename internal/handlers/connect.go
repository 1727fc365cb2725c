package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chatwire/chatwire/internal/kv"
	"github.com/chatwire/chatwire/internal/token"
)

// stateTTL bounds how long an issued OAuth state parameter stays valid.
const stateTTL = 10 * time.Minute

// ConnectHandler drives the operator-facing OAuth connect flow for the
// primary AI backend.
type ConnectHandler struct {
	connector *token.Connector
	manager   *token.Manager
	states    kv.Store
	logger    *slog.Logger
}

func NewConnectHandler(log *slog.Logger, connector *token.Connector, manager *token.Manager, states kv.Store) *ConnectHandler {
	return &ConnectHandler{
		connector: connector,
		manager:   manager,
		states:    states,
		logger:    log.With(slog.String("handler", "connect")),
	}
}

func (h *ConnectHandler) Register(e *echo.Echo) {
	e.POST("/api/connection/connect", h.Connect)
	e.GET("/api/connection/callback", h.Callback)
	e.POST("/api/connection/disconnect", h.Disconnect)
	e.GET("/api/connection", h.Status)
}

// Connect issues the authorization URL with a one-time state parameter.
func (h *ConnectHandler) Connect(c echo.Context) error {
	if !h.connector.Configured() {
		return echo.NewHTTPError(http.StatusConflict, "oauth connection is not configured")
	}
	state := uuid.NewString()
	if err := h.states.Set(c.Request().Context(), "oauth:state:"+state, "1", stateTTL); err != nil {
		h.logger.Error("failed to persist oauth state", slog.String("error", err.Error()))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start connect flow")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"authorize_url": h.connector.AuthURL(state),
	})
}

// Callback completes the flow: validates the state, exchanges the code, and
// hands the token pair to the manager.
func (h *ConnectHandler) Callback(c echo.Context) error {
	ctx := c.Request().Context()
	state := c.QueryParam("state")
	code := c.QueryParam("code")
	if state == "" || code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing code or state")
	}
	key := "oauth:state:" + state
	_, ok, err := h.states.Get(ctx, key)
	if err != nil || !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown or expired state")
	}
	_ = h.states.Delete(ctx, key)

	if err := h.connector.Exchange(ctx, code); err != nil {
		h.logger.Error("authorization code exchange failed", slog.String("error", err.Error()))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to complete connection")
	}
	h.logger.Info("backend connection established")
	return c.JSON(http.StatusOK, map[string]bool{"connected": true})
}

func (h *ConnectHandler) Disconnect(c echo.Context) error {
	if err := h.connector.Disconnect(c.Request().Context()); err != nil {
		h.logger.Error("disconnect failed", slog.String("error", err.Error()))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to disconnect")
	}
	return c.JSON(http.StatusOK, map[string]bool{"connected": false})
}

func (h *ConnectHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{
		"connected": h.manager.Connected(c.Request().Context()),
	})
}
