// Package server owns the shared echo instance: middleware, JWT guard, and
// route registration for handlers and webhook-driven channel adapters.
package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chatwire/chatwire/internal/auth"
)

// Registrar is anything that mounts routes on the shared server.
type Registrar interface {
	Register(e *echo.Echo)
}

type Server struct {
	echo *echo.Echo
	addr string
}

// New builds the server. Public paths skip the JWT guard: health checks,
// widget session issuance, the OAuth callback, and channel webhooks (which
// authenticate with their own platform tokens).
func New(log *slog.Logger, addr, jwtSecret string, registrars ...Registrar) *Server {
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(log))
	e.Use(auth.JWTMiddleware(jwtSecret, func(c echo.Context) bool {
		path := c.Request().URL.Path
		switch path {
		case "/ping", "/health", "/widget/session", "/api/connection/callback":
			return true
		}
		return strings.HasPrefix(path, "/webhooks/")
	}))

	for _, r := range registrars {
		if r != nil {
			r.Register(e)
		}
	}

	return &Server{echo: e, addr: addr}
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("service", "http"))
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
				log.Warn("request failed", attrs...)
				return nil
			}
			log.Info("request", attrs...)
			return nil
		},
	})
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
