package fetch

import (
	"fmt"
	"time"

	"github.com/matchfeed/sportsgate/internal/entity"
)

// AdmissionTimeoutError means the estimated wait for admission exceeded the
// caller's patience. Recoverable by retrying later.
type AdmissionTimeoutError struct {
	Entity entity.Entity
	Wait   time.Duration
}

func (e *AdmissionTimeoutError) Error() string {
	return fmt.Sprintf("admission wait %.1fs for %s exceeds patience", e.Wait.Seconds(), e.Entity)
}

// RateLimitExceededError means every retry attempt landed on an upstream 429.
// Hard failure at this layer; not retried further.
type RateLimitExceededError struct {
	Entity   entity.Entity
	Attempts int
	Cooldown time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s after %d attempts (cooling down %.1fs)",
		e.Entity, e.Attempts, e.Cooldown.Seconds())
}

// DegradedNoCacheError means the entity is in degrade mode and the cache had
// no value for the key. No upstream call was attempted.
type DegradedNoCacheError struct {
	Entity entity.Entity
	Key    string
}

func (e *DegradedNoCacheError) Error() string {
	return fmt.Sprintf("%s is degraded and %q is not cached", e.Entity, e.Key)
}

// UpstreamError is a non-429 4xx/5xx from the provider, surfaced with the
// status and a truncated body after retries are exhausted.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Body)
}

// TransportTimeoutError is a network-level timeout or connection failure.
type TransportTimeoutError struct {
	Cause error
}

func (e *TransportTimeoutError) Error() string {
	return fmt.Sprintf("upstream transport: %v", e.Cause)
}

func (e *TransportTimeoutError) Unwrap() error { return e.Cause }

// ConfigurationError is a fail-fast construction problem, e.g. a missing
// API key. Never retried.
type ConfigurationError struct {
	Missing string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s", e.Missing)
}
