package ratelimit

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// Limiter is a token-bucket rate limiter shared by all callers of one source.
// Tokens refill continuously at the configured rate up to the burst capacity.
// Safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
	rps     float64
	burst   int
}

// New creates a limiter granting rps tokens per second with the given burst.
// A non-positive burst is derived from the rate (at least 1 token).
//
// A zero rate is the documented degenerate case: Acquire blocks until the
// context is cancelled and TryAcquire always returns false. It is not an
// error to construct one.
func New(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return &Limiter{limiter: rate.NewLimiter(0, 0), rps: 0, burst: 0}
	}
	if burst <= 0 {
		burst = int(math.Ceil(rps))
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rps:     rps,
		burst:   burst,
	}
}

// NewUnlimited creates a limiter that never delays callers. Used by the mock
// source.
func NewUnlimited() *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Inf, 1),
		rps:     math.Inf(1),
		burst:   1,
	}
}

// Acquire blocks without busy-spinning until a token is available, then
// consumes it. Returns the context's error when cancelled or past deadline.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.rps == 0 {
		// Zero rate never grants a token; only cancellation unblocks
		<-ctx.Done()
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}

// TryAcquire consumes a token if one is available, never blocking
func (l *Limiter) TryAcquire() bool {
	if l.rps == 0 {
		return false
	}
	return l.limiter.Allow()
}

// Rate returns the configured tokens per second (+Inf for unlimited)
func (l *Limiter) Rate() float64 {
	return l.rps
}

// Burst returns the bucket capacity
func (l *Limiter) Burst() int {
	return l.burst
}

// Unlimited reports whether this limiter never delays callers
func (l *Limiter) Unlimited() bool {
	return math.IsInf(l.rps, 1)
}
