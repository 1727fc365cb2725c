package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/chatwire/chatwire/internal/store"
)

// ConfigurationsHandler is the admin surface for chat behavior profiles.
type ConfigurationsHandler struct {
	store    store.ConfigurationStore
	validate *validator.Validate
	logger   *slog.Logger
}

func NewConfigurationsHandler(log *slog.Logger, st store.ConfigurationStore) *ConfigurationsHandler {
	return &ConfigurationsHandler{
		store:    st,
		validate: validator.New(),
		logger:   log.With(slog.String("handler", "configurations")),
	}
}

func (h *ConfigurationsHandler) Register(e *echo.Echo) {
	e.GET("/api/configurations/:id", h.Get)
	e.PUT("/api/configurations/:id", h.Upsert)
}

type configurationRequest struct {
	Name             string   `json:"name" validate:"max=200"`
	Persona          string   `json:"persona"`
	Knowledge        string   `json:"knowledge"`
	KnowledgeSources []string `json:"knowledge_sources"`
	SystemPrompt     string   `json:"system_prompt"`
	Model            string   `json:"model"`
	Temperature      *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens        int      `json:"max_tokens" validate:"gte=0"`
	HistoryLimit     int      `json:"history_limit" validate:"gte=0,lte=100"`
	Enabled          bool     `json:"enabled"`
}

func (h *ConfigurationsHandler) Get(c echo.Context) error {
	cfg, err := h.store.GetConfiguration(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "configuration not found")
	}
	if err != nil {
		h.logger.Error("failed to load configuration", slog.String("error", err.Error()))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load configuration")
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *ConfigurationsHandler) Upsert(c echo.Context) error {
	var req configurationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request: "+err.Error())
	}

	cfg, err := h.store.UpsertConfiguration(c.Request().Context(), store.Configuration{
		ID:               c.Param("id"),
		Name:             req.Name,
		Persona:          req.Persona,
		Knowledge:        req.Knowledge,
		KnowledgeSources: req.KnowledgeSources,
		SystemPrompt:     req.SystemPrompt,
		Model:            req.Model,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		HistoryLimit:     req.HistoryLimit,
		Enabled:          req.Enabled,
	})
	if err != nil {
		h.logger.Error("failed to save configuration", slog.String("error", err.Error()))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save configuration")
	}
	return c.JSON(http.StatusOK, cfg)
}
