package registry

import (
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/backoff"
)

const (
	// FastRoundTrip is the round trip below which the server is assumed not to have long-polled
	FastRoundTrip = time.Second

	// MinPollDelay is the spacing used after a poll that already waited server-side
	MinPollDelay = 100 * time.Millisecond

	// longPollShare is the fraction of Wait after which a round trip counts as a long poll
	longPollShare = 0.8
)

// Options configures polling for one job
type Options struct {
	// Timeout is the overall deadline for the job, zero means none
	Timeout time.Duration
	// PollInterval is the minimum spacing between polls when the server answers quickly
	PollInterval time.Duration
	// MaxPolls caps the number of polls, zero means unlimited
	MaxPolls int
	// Wait is the server-side long-poll duration requested per call
	Wait time.Duration
	// PollingRetries is the consecutive transport-failure budget
	PollingRetries int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultOptions returns the polling defaults
func DefaultOptions() Options {
	return Options{
		Timeout:        10 * time.Minute,
		PollInterval:   2 * time.Second,
		MaxPolls:       0,
		Wait:           5 * time.Second,
		PollingRetries: 5,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  30 * time.Second,
	}
}

// RetryPolicy returns the backoff applied between failed polls
func (o Options) RetryPolicy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts: o.PollingRetries,
		BaseDelay:   o.RetryBaseDelay,
		Multiplier:  2,
		MaxDelay:    o.RetryMaxDelay,
	}
}

// NextDelay returns the pause before the next poll given how long the last one took
func (o Options) NextDelay(elapsed time.Duration) time.Duration {
	if elapsed < FastRoundTrip {
		return max(o.PollInterval, 0)
	}
	if o.Wait > 0 && float64(elapsed) >= float64(o.Wait)*longPollShare {
		return MinPollDelay
	}
	return max(o.PollInterval-elapsed, MinPollDelay)
}
