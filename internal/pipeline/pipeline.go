package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Next invokes the rest of the chain.
type Next func(ctx context.Context, mc Context) Response

// Middleware is one ordered pre-processing stage. Process may transform the
// context, post-process the result of next, or short-circuit by returning a
// Response without calling next.
type Middleware interface {
	Name() string
	// Priority orders the chain: lower values run first.
	Priority() int
	Process(ctx context.Context, mc Context, next Next) Response
}

// Handler is the core stage at the center of the chain.
type Handler interface {
	Handle(ctx context.Context, mc Context) Response
}

// Pipeline composes registered middleware around a core handler. The sorted
// chain is cached and rebuilt only when a middleware is added.
type Pipeline struct {
	handler Handler
	logger  *slog.Logger

	mu         sync.Mutex
	middleware []Middleware
	chain      Next
}

// New creates a Pipeline around the core handler.
func New(log *slog.Logger, handler Handler) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		handler: handler,
		logger:  log.With(slog.String("service", "pipeline")),
	}
}

// Use registers a middleware and invalidates the cached chain.
func (p *Pipeline) Use(m Middleware) {
	p.mu.Lock()
	p.middleware = append(p.middleware, m)
	p.chain = nil
	p.mu.Unlock()
}

// Process runs one message through the chain. It never panics: any panic in
// a middleware or the handler is converted to a pipeline_error Response.
// ProcessingTimeMs is stamped here, at the outermost layer.
func (p *Pipeline) Process(ctx context.Context, mc Context) (resp Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic during message processing", slog.Any("panic", r))
			resp = Fail(ErrTypePipeline, "internal processing error")
		}
		resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	}()
	return p.compiled()(ctx, mc)
}

// compiled returns the cached chain, building it if needed. Stages are
// sorted by priority ascending, registration order breaking ties, and
// composed so the lowest priority runs first.
func (p *Pipeline) compiled() Next {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chain != nil {
		return p.chain
	}

	sorted := make([]Middleware, len(p.middleware))
	copy(sorted, p.middleware)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	next := Next(func(ctx context.Context, mc Context) Response {
		return p.handler.Handle(ctx, mc)
	})
	for i := len(sorted) - 1; i >= 0; i-- {
		m := sorted[i]
		inner := next
		next = func(ctx context.Context, mc Context) Response {
			return m.Process(ctx, mc, inner)
		}
	}
	p.chain = next
	return next
}
