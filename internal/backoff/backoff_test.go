package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{40, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicy_DelayIsMonotonic(t *testing.T) {
	policies := []Policy{
		Default(),
		{BaseDelay: time.Millisecond, Multiplier: 1.5, MaxDelay: time.Minute},
		{BaseDelay: time.Second, Multiplier: 0},
		{BaseDelay: time.Second, Multiplier: 3},
	}

	for _, p := range policies {
		prev := time.Duration(0)
		for n := 1; n <= 200; n++ {
			d := p.Delay(n)
			require.GreaterOrEqual(t, d, prev, "delay(%d) < delay(%d) for %+v", n, n-1, p)
			if p.MaxDelay > 0 {
				require.LessOrEqual(t, d, p.MaxDelay)
			}
			prev = d
		}
	}
}

func TestPolicy_Exhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.True(t, Policy{}.Exhausted(0))
}

func TestSleep_AdvancesOnVirtualClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	done := make(chan error, 1)

	go func() {
		done <- Sleep(context.Background(), clock, 5*time.Second)
	}()

	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after the clock advanced")
	}
}

func TestSleep_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, clockwork.NewFakeClock(), time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
