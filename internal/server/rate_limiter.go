// Package server implements a token bucket rate limiter for per-connection
// throttling that protects the sync pipeline from abuse.
package server

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

type rateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter allows bursts of capacity messages, refilling the whole
// bucket once per interval.
func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	every := rate.Every(interval / time.Duration(capacity))
	return &rateLimiter{limiter: rate.NewLimiter(every, capacity)}
}

// wait blocks until a token is available. It fails early when ctx is done
// or its deadline would pass first.
func (rl *rateLimiter) wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}
