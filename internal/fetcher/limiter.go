package fetcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Throttle enforces a minimum interval between requests to one source,
// derived from its requests-per-minute budget. A 429 halves the rate (down
// to a quarter of the budget); successes climb back, never above it.
type Throttle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	budget  rate.Limit
	floor   rate.Limit
	current rate.Limit
}

// NewThrottle builds a token bucket of one refilled every 60s/rpm.
// rpm <= 0 disables throttling.
func NewThrottle(rpm int) *Throttle {
	if rpm <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 1), budget: rate.Inf, floor: rate.Inf, current: rate.Inf}
	}
	budget := rate.Every(time.Minute / time.Duration(rpm))
	return &Throttle{
		limiter: rate.NewLimiter(budget, 1),
		budget:  budget,
		floor:   budget / 4,
		current: budget,
	}
}

// Wait blocks until the next request may be issued or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// OnSuccess moves the rate 20% back toward the budget.
func (t *Throttle) OnSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current >= t.budget {
		return
	}
	t.current = min(t.current*1.2, t.budget)
	t.limiter.SetLimit(t.current)
}

// OnRateLimit halves the rate after a 429.
func (t *Throttle) OnRateLimit(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.budget == rate.Inf {
		return
	}
	t.current = max(t.current*0.5, t.floor)
	t.limiter.SetLimit(t.current)
	zap.L().Warn("fetcher: source rate limited, slowing down",
		zap.String("source", source),
		zap.Float64("rate_per_sec", float64(t.current)),
	)
}

// Limit returns the current rate.
func (t *Throttle) Limit() rate.Limit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
