// package ratelimit bounds outbound request rate per provider client
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/bbye98/minim/internal/shared"
	"golang.org/x/time/rate"
)

// Limiter caps requests to a per-second ceiling local to one client
// instance. Callers over the ceiling block until the window rolls over.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter allowing perSecond requests per rolling second.
// A non-positive value defaults to 10.
func New(perSecond float64) *Limiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Acquire blocks until a request slot is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// TryAcquire waits at most maxWait for a slot. It returns
// [shared.ErrRateLimitExceeded] when the bound elapses first.
func (l *Limiter) TryAcquire(ctx context.Context, maxWait time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	if err := l.limiter.Wait(waitCtx); err != nil {
		// The limiter reports a wait exceeding the deadline without blocking,
		// so distinguish saturation from the caller's own cancellation.
		if ctx.Err() != nil {
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		}
		return fmt.Errorf("%w: saturated for over %v", shared.ErrRateLimitExceeded, maxWait)
	}
	return nil
}
