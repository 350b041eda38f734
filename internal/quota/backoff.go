package quota

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls cooldown and retry backoff growth.
type BackoffConfig struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Factor         float64
	JitterFraction float64
}

// DefaultBackoff matches the provider-facing defaults: 1s base, 300s cap,
// doubling, up to 30% jitter.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay:      time.Second,
		MaxDelay:       5 * time.Minute,
		Factor:         2.0,
		JitterFraction: 0.3,
	}
}

// Delay computes the backoff for the given attempt (0-based), capped and
// without jitter. The exponent is clamped at 10 so repeated failures cannot
// overflow into absurd durations before the cap applies.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		attempt = 10
	}
	d := float64(c.BaseDelay) * math.Pow(c.Factor, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// Jitter adds uniform jitter in [0, JitterFraction*d] to a duration.
func (c BackoffConfig) Jitter(d time.Duration) time.Duration {
	if c.JitterFraction <= 0 || d <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*c.JitterFraction*float64(d))
}
