package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"
)

// Limiter spaces out requests by sleeping a random duration drawn uniformly
// from [base, 2*base] before each one. It is safe for concurrent use.
type Limiter struct {
	base time.Duration
	rand func() float64
}

// NewLimiter creates a limiter for the given base delay. A base <= 0 never
// blocks.
func NewLimiter(base time.Duration) *Limiter {
	return &Limiter{base: base, rand: rand.Float64}
}

// Delay draws the next sleep duration.
func (l *Limiter) Delay() time.Duration {
	if l == nil || l.base <= 0 {
		return 0
	}
	return l.base + time.Duration(l.rand()*float64(l.base))
}

// Wait sleeps for Delay or until ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	d := l.Delay()
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
