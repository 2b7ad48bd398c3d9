// Package backoff holds the retry policy shared by polling and reconnects.
package backoff

import (
	"context"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy describes a bounded exponential retry schedule
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// Default returns the schedule used when nothing is configured: 5 attempts, 1s doubling, capped at 30s
func Default() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the wait before retry number attempt (1-based): base * multiplier^(attempt-1), capped
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 2.0
	}

	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Exhausted reports whether attempt has used up the budget. A zero budget never retries.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// Sleep waits d on clock, returning early with the context error
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
