package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chatwire/chatwire/internal/kv"
)

// Rate limit defaults.
const (
	DefaultRateLimitMax    = 20
	DefaultRateLimitWindow = 60 * time.Second
)

// RateLimitMiddleware enforces a fixed-window counter per caller identity,
// stored in a TTL-capable key-value store. The read-modify-write is not
// atomic; a benign race may miscount by one within a window, which is
// acceptable for abuse deterrence.
type RateLimitMiddleware struct {
	store  kv.Store
	max    int
	window time.Duration
	now    func() time.Time
}

// NewRateLimit creates the rate-limit stage. Non-positive max/window select
// the defaults.
func NewRateLimit(store kv.Store, max int, window time.Duration) *RateLimitMiddleware {
	if max <= 0 {
		max = DefaultRateLimitMax
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RateLimitMiddleware{store: store, max: max, window: window, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (r *RateLimitMiddleware) SetClock(now func() time.Time) { r.now = now }

func (r *RateLimitMiddleware) Name() string  { return "rate_limit" }
func (r *RateLimitMiddleware) Priority() int { return 20 }

func (r *RateLimitMiddleware) Process(ctx context.Context, mc Context, next Next) Response {
	ident := mc.RateLimitKey()
	if ident == "" {
		return next(ctx, mc)
	}
	key := "ratelimit:" + ident
	now := r.now()

	count, windowEnd := r.load(ctx, key)
	if windowEnd.Before(now) || windowEnd.Equal(now) {
		count = 0
		windowEnd = now.Add(r.window)
	}
	if count >= r.max {
		retryAfter := int(windowEnd.Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		resp := Fail(ErrTypeRateLimit, "too many requests, slow down")
		resp.RetryAfter = retryAfter
		return resp
	}

	value := fmt.Sprintf("%d:%d", count+1, windowEnd.Unix())
	// A failed counter write lets the request through: throttling is a
	// deterrent, not a hard quota.
	_ = r.store.Set(ctx, key, value, windowEnd.Sub(now))
	return next(ctx, mc)
}

// load parses "count:windowEndUnix"; a missing or malformed entry counts
// as an expired window.
func (r *RateLimitMiddleware) load(ctx context.Context, key string) (int, time.Time) {
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil || !ok {
		return 0, time.Time{}
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, time.Time{}
	}
	count, err1 := strconv.Atoi(parts[0])
	endUnix, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, time.Time{}
	}
	return count, time.Unix(endUnix, 0)
}
