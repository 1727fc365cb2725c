// Package channel defines the adapter contract shared by the chat surfaces
// (web widget, Telegram, WhatsApp) and the rendering of pipeline responses
// into user-visible text.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chatwire/chatwire/internal/pipeline"
)

// Adapter is one chat surface. Start blocks until ctx is cancelled or the
// adapter fails; webhook-driven adapters may return immediately after
// registering routes.
type Adapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Render maps a pipeline Response to the text an end user sees. Validation
// and rate-limit failures are actionable; infrastructure failures render a
// generic retry message that leaks no internals.
func Render(resp pipeline.Response) string {
	if resp.Success {
		if resp.HasToolCalls() {
			return "I need to run a tool to answer that, but tools are not available on this channel."
		}
		return resp.Message
	}
	switch resp.ErrorType {
	case pipeline.ErrTypeValidation:
		return "Sorry, I can't process that message: " + resp.Error
	case pipeline.ErrTypeRateLimit:
		if resp.RetryAfter > 0 {
			return fmt.Sprintf("You're sending messages too quickly. Please wait %d seconds and try again.", resp.RetryAfter)
		}
		return "You're sending messages too quickly. Please slow down."
	case pipeline.ErrTypeBudgetExceeded:
		return "The AI budget for this service is exhausted. Please contact the operator."
	default:
		return "Something went wrong on our side. Please try again later."
	}
}

// Manager owns the registered adapters and their lifecycle.
type Manager struct {
	logger *slog.Logger

	mu       sync.Mutex
	adapters []Adapter
}

func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{logger: log.With(slog.String("service", "channel"))}
}

// Register adds an adapter. Safe before or between Start calls.
func (m *Manager) Register(a Adapter) {
	m.mu.Lock()
	m.adapters = append(m.adapters, a)
	m.mu.Unlock()
}

// StartAll launches every adapter in its own goroutine. Adapter failures
// are logged, not fatal: one broken channel must not take down the rest.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.Lock()
	adapters := append([]Adapter(nil), m.adapters...)
	m.mu.Unlock()
	for _, a := range adapters {
		go func(a Adapter) {
			m.logger.Info("starting channel adapter", slog.String("adapter", a.Name()))
			if err := a.Start(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("channel adapter stopped",
					slog.String("adapter", a.Name()),
					slog.String("error", err.Error()))
			}
		}(a)
	}
}

// StopAll stops every adapter, logging failures.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	adapters := append([]Adapter(nil), m.adapters...)
	m.mu.Unlock()
	for _, a := range adapters {
		if err := a.Stop(ctx); err != nil {
			m.logger.Warn("channel adapter stop failed",
				slog.String("adapter", a.Name()),
				slog.String("error", err.Error()))
		}
	}
}
