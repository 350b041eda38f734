package quota

import (
	"time"

	"github.com/matchfeed/sportsgate/internal/entity"
)

// rate429Window is how far back the recent-429 counter looks.
const rate429Window = 60 * time.Second

// waitBuffer pads wait estimates so a retry lands just after the oldest
// window entry has aged out, not exactly on the boundary.
const waitBuffer = 100 * time.Millisecond

// entityState is the per-entity quota record. It is owned exclusively by the
// Manager and every method assumes the Manager's lock is held.
type entityState struct {
	name     entity.Entity
	capacity int
	window   time.Duration

	// Token bucket: burst-smoothing fast path.
	tokens     int
	lastRefill time.Time

	// Sliding window of admitted request times, oldest first. This is the
	// source of truth for the hard cap: it never over-admits.
	admitted []time.Time

	// Last quota snapshot reported by the provider. remoteRemaining is -1
	// until the provider has reported at least once.
	remoteRemaining int
	remoteLimit     int
	remoteResetAt   time.Time

	cooldownUntil  time.Time
	cooldownReason string

	degraded   bool
	degradedAt time.Time

	totalRequests int64
	total429      int64
	cacheHits     int64
	cacheMisses   int64
	recent429     []time.Time
}

func newEntityState(name entity.Entity, capacity int, window time.Duration, now time.Time) *entityState {
	return &entityState{
		name:            name,
		capacity:        capacity,
		window:          window,
		tokens:          capacity,
		lastRefill:      now,
		remoteRemaining: -1,
		remoteLimit:     capacity,
	}
}

// refill tops up the token bucket proportionally to elapsed time. lastRefill
// only advances when at least one whole token was earned, so fractional
// accrual is not silently dropped on every call.
func (s *entityState) refill(now time.Time) {
	elapsed := now.Sub(s.lastRefill)
	if elapsed <= 0 {
		return
	}
	earned := int(elapsed.Seconds() / s.window.Seconds() * float64(s.capacity))
	if earned <= 0 {
		return
	}
	s.tokens += earned
	if s.tokens > s.capacity {
		s.tokens = s.capacity
	}
	s.lastRefill = now
}

// pruneWindow drops admitted entries older than the quota window.
func (s *entityState) pruneWindow(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.admitted) && !s.admitted[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.admitted = append(s.admitted[:0], s.admitted[i:]...)
	}
}

// tryConsume attempts to admit one request. Admission requires both gates:
// the sliding window under capacity (exactness) and a token available
// (burst smoothing). On rejection nothing is mutated.
func (s *entityState) tryConsume(now time.Time) bool {
	s.refill(now)
	s.pruneWindow(now)
	if len(s.admitted) >= s.capacity || s.tokens <= 0 {
		return false
	}
	s.tokens--
	s.admitted = append(s.admitted, now)
	s.totalRequests++
	return true
}

// observeQuota folds a provider-reported quota snapshot into local state.
// Remote truth wins: if the provider says fewer requests remain than we have
// tokens, other consumers of the same key have been spending the budget and
// the bucket is clamped down.
func (s *entityState) observeQuota(now time.Time, remaining, limit int, resetAt time.Time) {
	if limit > 0 && limit != s.capacity {
		s.capacity = limit
		s.remoteLimit = limit
		if s.tokens > s.capacity {
			s.tokens = s.capacity
		}
	}
	if remaining >= 0 {
		s.remoteRemaining = remaining
		if remaining < s.tokens {
			s.tokens = remaining
		}
	}
	if !resetAt.IsZero() && resetAt.After(now) {
		s.remoteResetAt = resetAt
	}
}

// inCooldown reports whether the entity is cooling down. An expired cooldown
// is cleared here on observation; there is no timer.
func (s *entityState) inCooldown(now time.Time) (bool, time.Duration) {
	if s.cooldownUntil.IsZero() {
		return false, 0
	}
	if !now.Before(s.cooldownUntil) {
		s.cooldownUntil = time.Time{}
		s.cooldownReason = ""
		return false, 0
	}
	return true, s.cooldownUntil.Sub(now)
}

func (s *entityState) startCooldown(now time.Time, d time.Duration, reason string) {
	s.cooldownUntil = now.Add(d)
	s.cooldownReason = reason
}

// evalDegrade applies the degrade hysteresis: enter below threshold, exit
// only at or above twice the threshold. Returns whether the flag flipped.
func (s *entityState) evalDegrade(now time.Time, threshold int) bool {
	if s.remoteRemaining < 0 {
		return false
	}
	if !s.degraded && s.remoteRemaining < threshold {
		s.degraded = true
		s.degradedAt = now
		return true
	}
	if s.degraded && s.remoteRemaining >= 2*threshold {
		s.degraded = false
		s.degradedAt = time.Time{}
		return true
	}
	return false
}

func (s *entityState) record429(now time.Time) {
	s.total429++
	s.recent429 = append(s.recent429, now)
	s.prune429(now)
}

func (s *entityState) prune429(now time.Time) {
	cutoff := now.Add(-rate429Window)
	i := 0
	for i < len(s.recent429) && !s.recent429[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.recent429 = append(s.recent429[:0], s.recent429[i:]...)
	}
}

func (s *entityState) rate429(now time.Time) int {
	s.prune429(now)
	return len(s.recent429)
}

// waitEstimate guesses how long until the next admission could succeed:
// until the oldest window entry ages out, else until the remote reset, else
// one average inter-request interval.
func (s *entityState) waitEstimate(now time.Time) time.Duration {
	if len(s.admitted) > 0 {
		wait := s.window - now.Sub(s.admitted[0]) + waitBuffer
		if wait < waitBuffer {
			wait = waitBuffer
		}
		if wait > s.window {
			wait = s.window
		}
		return wait
	}
	if s.remoteResetAt.After(now) {
		return s.remoteResetAt.Sub(now)
	}
	return s.window / time.Duration(s.capacity)
}
