// Package ratelimit paces the rounds of a continuous benchmark.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter admits at most one round per interval. A zero interval
// disables pacing.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(limitFor(interval), 1),
	}
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// Wait blocks until the next round may start or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.limiter.Limit() == rate.Inf {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}
