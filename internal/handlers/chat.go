package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/chatwire/chatwire/internal/pipeline"
)

// ChatHandler is the direct chat surface for host integrations that talk to
// the pipeline without a channel adapter.
type ChatHandler struct {
	pipeline *pipeline.Pipeline
	validate *validator.Validate
	logger   *slog.Logger
}

func NewChatHandler(log *slog.Logger, pl *pipeline.Pipeline) *ChatHandler {
	return &ChatHandler{
		pipeline: pl,
		validate: validator.New(),
		logger:   log.With(slog.String("handler", "chat")),
	}
}

func (h *ChatHandler) Register(e *echo.Echo) {
	e.POST("/api/chat", h.Chat)
}

type chatRequest struct {
	Message        string `json:"message" validate:"required,max=10000"`
	ChatID         string `json:"chat_id" validate:"omitempty,max=200"`
	ConversationID string `json:"conversation_id" validate:"omitempty,uuid"`
	ConfigID       string `json:"config_id"`
	VisitorName    string `json:"visitor_name" validate:"omitempty,max=200"`
}

// Chat runs one message through the pipeline and returns the full Response,
// so callers can branch on error_type themselves.
func (h *ChatHandler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request: "+err.Error())
	}

	mc := pipeline.NewContext(req.Message, "api").
		WithPlatformChatID(req.ChatID).
		WithClientIP(c.RealIP()).
		WithVisitorName(req.VisitorName)
	if req.ConversationID != "" {
		mc = mc.WithConversationID(req.ConversationID)
	}
	if req.ConfigID != "" {
		mc = mc.WithConfigID(req.ConfigID)
	}

	resp := h.pipeline.Process(c.Request().Context(), mc)
	status := http.StatusOK
	if !resp.Success {
		status = statusFor(resp.ErrorType)
	}
	return c.JSON(status, resp)
}

func statusFor(errType pipeline.ErrorType) int {
	switch errType {
	case pipeline.ErrTypeValidation:
		return http.StatusBadRequest
	case pipeline.ErrTypeRateLimit:
		return http.StatusTooManyRequests
	case pipeline.ErrTypeBudgetExceeded:
		return http.StatusPaymentRequired
	case pipeline.ErrTypeAIUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
