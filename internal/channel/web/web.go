// Package web serves the embeddable chat widget API: anonymous session
// issuance followed by JWT-authenticated chat calls.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chatwire/chatwire/internal/auth"
	"github.com/chatwire/chatwire/internal/channel"
	"github.com/chatwire/chatwire/internal/pipeline"
)

// Adapter is webhook-driven like whatsapp: all traffic arrives through the
// shared HTTP server.
type Adapter struct {
	pipeline   *pipeline.Pipeline
	jwtSecret  string
	sessionTTL time.Duration
	validate   *validator.Validate
	logger     *slog.Logger
}

func New(log *slog.Logger, pl *pipeline.Pipeline, jwtSecret string, sessionTTL time.Duration) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Adapter{
		pipeline:   pl,
		jwtSecret:  jwtSecret,
		sessionTTL: sessionTTL,
		validate:   validator.New(),
		logger:     log.With(slog.String("service", "web")),
	}
}

func (a *Adapter) Name() string                    { return "web" }
func (a *Adapter) Start(ctx context.Context) error { return nil }
func (a *Adapter) Stop(ctx context.Context) error  { return nil }

// Register mounts the widget routes. /widget/session is public; the rest
// sit behind the server's JWT middleware.
func (a *Adapter) Register(e *echo.Echo) {
	e.POST("/widget/session", a.createSession)
	e.POST("/widget/chat", a.chat)
}

type sessionResponse struct {
	Token     string `json:"token"`
	VisitorID string `json:"visitor_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// createSession issues an anonymous visitor session token.
func (a *Adapter) createSession(c echo.Context) error {
	visitorID := uuid.NewString()
	token, expiresAt, err := auth.GenerateToken(visitorID, a.jwtSecret, a.sessionTTL)
	if err != nil {
		a.logger.Error("failed to issue session token", slog.String("error", err.Error()))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create session")
	}
	return c.JSON(http.StatusOK, sessionResponse{
		Token:     token,
		VisitorID: visitorID,
		ExpiresAt: expiresAt.Unix(),
	})
}

type chatRequest struct {
	Message        string `json:"message" validate:"required,max=10000"`
	ConversationID string `json:"conversation_id" validate:"omitempty,uuid"`
	ConfigID       string `json:"config_id"`
	VisitorName    string `json:"visitor_name" validate:"omitempty,max=200"`
}

// chat runs one widget message through the pipeline and returns the full
// Response, so the widget can branch on error_type itself.
func (a *Adapter) chat(c echo.Context) error {
	visitorID, err := auth.VisitorIDFromContext(c)
	if err != nil {
		return err
	}

	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := a.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request: "+err.Error())
	}

	mc := pipeline.NewContext(req.Message, "web").
		WithPlatformChatID(visitorID).
		WithClientIP(c.RealIP()).
		WithVisitorName(req.VisitorName)
	if req.ConversationID != "" {
		mc = mc.WithConversationID(req.ConversationID)
	}
	if req.ConfigID != "" {
		mc = mc.WithConfigID(req.ConfigID)
	}

	resp := a.pipeline.Process(c.Request().Context(), mc)
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

var _ channel.Adapter = (*Adapter)(nil)
