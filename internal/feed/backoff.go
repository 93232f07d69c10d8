package feed

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultInitialDelay is the wait after the first consecutive failure.
	DefaultInitialDelay = time.Second
	// DefaultMaxDelay caps the doubling.
	DefaultMaxDelay = 60 * time.Second
)

// Backoff yields exponentially growing delays between reconnect attempts.
// Delays are exact doublings without jitter so operators can read the
// reconnect cadence straight from the logs.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	exp     *backoff.ExponentialBackOff
}

// NewBackoff returns a backoff starting at initial and capped at max. Zero
// values fall back to the defaults.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if max < initial {
		max = DefaultMaxDelay
		if max < initial {
			max = initial
		}
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
	}
	exp.Reset()
	return &Backoff{Initial: initial, Max: max, exp: exp}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	return b.exp.NextBackOff()
}

// Reset brings the delay back to Initial.
func (b *Backoff) Reset() {
	b.exp.Reset()
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
