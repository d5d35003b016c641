package pipeline

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds re-attempts of retryable stage failures: transient
// vision backend outages and authority timeouts. Everything else fails the
// run on the first attempt.
type RetryPolicy struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     float64       `mapstructure:"jitter"`
}

// DefaultRetryPolicy allows one retry after half a second, doubled per
// attempt with ten percent jitter.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 1,
	BaseDelay:  500 * time.Millisecond,
	Multiplier: 2,
	Jitter:     0.1,
}

// Backoff returns the delay before retry number try (zero-based).
func (p RetryPolicy) Backoff(try int) time.Duration {
	delay := float64(p.BaseDelay)
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	for i := 0; i < try; i++ {
		delay *= mult
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * rand.Float64()
	}
	return time.Duration(delay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
