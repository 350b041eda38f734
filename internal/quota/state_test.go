package quota

import (
	"testing"
	"time"

	"github.com/matchfeed/sportsgate/internal/entity"
)

func newTestState(capacity int, window time.Duration) (*entityState, time.Time) {
	start := time.Unix(1_700_000_000, 0)
	return newEntityState(entity.Fixtures, capacity, window, start), start
}

func TestRefillWholeTokensOnly(t *testing.T) {
	s, now := newTestState(3000, time.Hour)
	s.tokens = 0

	// 1s earns 3000/3600 = 0.83 tokens: nothing granted, lastRefill stays
	now = now.Add(1 * time.Second)
	s.refill(now)
	if s.tokens != 0 {
		t.Fatalf("tokens = %d, want 0", s.tokens)
	}
	if !s.lastRefill.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("lastRefill advanced without earning a token")
	}

	// 1.3s total earns floor(1.083) = 1 token and advances lastRefill
	now = now.Add(300 * time.Millisecond)
	s.refill(now)
	if s.tokens != 1 {
		t.Fatalf("tokens = %d, want 1", s.tokens)
	}
	if !s.lastRefill.Equal(now) {
		t.Fatalf("lastRefill did not advance after earning a token")
	}
}

func TestRefillCapsAtCapacity(t *testing.T) {
	s, now := newTestState(100, time.Minute)
	s.tokens = 90
	s.refill(now.Add(time.Hour))
	if s.tokens != 100 {
		t.Fatalf("tokens = %d, want capacity 100", s.tokens)
	}
}

func TestTryConsumeMonotonicity(t *testing.T) {
	s, now := newTestState(5, 10*time.Second)
	for i := 0; i < 20; i++ {
		s.tryConsume(now)
		if s.tokens < 0 || s.tokens > s.capacity {
			t.Fatalf("tokens = %d out of [0, %d]", s.tokens, s.capacity)
		}
	}
}

func TestDualGateAdmission(t *testing.T) {
	s, now := newTestState(5, 10*time.Second)

	for i := 0; i < 5; i++ {
		if !s.tryConsume(now) {
			t.Fatalf("request %d rejected, want admitted", i+1)
		}
	}
	if s.tryConsume(now) {
		t.Fatal("6th instantaneous request admitted, want rejected")
	}
	if len(s.admitted) != 5 {
		t.Fatalf("window count = %d, want 5", len(s.admitted))
	}

	// after the full window passes, admission succeeds again
	now = now.Add(10*time.Second + time.Millisecond)
	if !s.tryConsume(now) {
		t.Fatal("request after window elapsed rejected, want admitted")
	}
	if len(s.admitted) != 1 {
		t.Fatalf("window count = %d after prune, want 1", len(s.admitted))
	}
}

func TestWindowNeverOverAdmitsWithGenerousBucket(t *testing.T) {
	// Even with a full bucket, the window stays the hard cap.
	s, now := newTestState(3, time.Minute)
	s.tokens = 100 // deliberately corrupt beyond capacity to prove the gate
	admitted := 0
	for i := 0; i < 10; i++ {
		if s.tryConsume(now) {
			admitted++
		}
	}
	if admitted != 3 {
		t.Fatalf("admitted = %d, want 3 (window capacity)", admitted)
	}
}

func TestObserveQuotaClampsTokens(t *testing.T) {
	s, now := newTestState(3000, time.Hour)

	s.observeQuota(now, 100, 0, time.Time{})
	if s.tokens != 100 {
		t.Fatalf("tokens = %d, want clamped to remote remaining 100", s.tokens)
	}
	if s.remoteRemaining != 100 {
		t.Fatalf("remoteRemaining = %d, want 100", s.remoteRemaining)
	}

	// a higher remote remaining never inflates the bucket
	s.observeQuota(now, 2000, 0, time.Time{})
	if s.tokens != 100 {
		t.Fatalf("tokens = %d, want unchanged 100", s.tokens)
	}
}

func TestObserveQuotaAdoptsRemoteLimit(t *testing.T) {
	s, now := newTestState(3000, time.Hour)
	s.observeQuota(now, -1, 2000, time.Time{})
	if s.capacity != 2000 {
		t.Fatalf("capacity = %d, want adopted 2000", s.capacity)
	}
	if s.tokens != 2000 {
		t.Fatalf("tokens = %d, want clamped to new capacity", s.tokens)
	}
}

func TestCooldownLazyExpiry(t *testing.T) {
	s, now := newTestState(10, time.Minute)
	s.startCooldown(now, 5*time.Second, "retry_after")

	in, remaining := s.inCooldown(now.Add(2 * time.Second))
	if !in || remaining != 3*time.Second {
		t.Fatalf("inCooldown = (%v, %v), want (true, 3s)", in, remaining)
	}

	in, _ = s.inCooldown(now.Add(5 * time.Second))
	if in {
		t.Fatal("cooldown still reported after deadline")
	}
	if !s.cooldownUntil.IsZero() || s.cooldownReason != "" {
		t.Fatal("cooldown fields not cleared on expiry")
	}
}

func TestDegradeHysteresis(t *testing.T) {
	s, now := newTestState(3000, time.Hour)
	const threshold = 200

	s.observeQuota(now, 150, 0, time.Time{})
	if !s.evalDegrade(now, threshold) || !s.degraded {
		t.Fatal("remaining 150 did not enter degrade mode")
	}

	// between threshold and 2x threshold: stays degraded
	s.observeQuota(now, 250, 0, time.Time{})
	if s.evalDegrade(now, threshold) || !s.degraded {
		t.Fatal("remaining 250 exited degrade mode, want sticky")
	}

	s.observeQuota(now, 450, 0, time.Time{})
	if !s.evalDegrade(now, threshold) || s.degraded {
		t.Fatal("remaining 450 did not exit degrade mode")
	}
}

func TestWaitEstimate(t *testing.T) {
	s, now := newTestState(2, 10*time.Second)

	// no window entries, no reset: one average interval
	if got := s.waitEstimate(now); got != 5*time.Second {
		t.Fatalf("empty-state estimate = %v, want 5s", got)
	}

	// remote reset known
	s.remoteResetAt = now.Add(7 * time.Second)
	if got := s.waitEstimate(now); got != 7*time.Second {
		t.Fatalf("reset-based estimate = %v, want 7s", got)
	}

	// window entries dominate: time until the oldest ages out, plus buffer
	s.tryConsume(now)
	now = now.Add(4 * time.Second)
	got := s.waitEstimate(now)
	want := 6*time.Second + waitBuffer
	if got != want {
		t.Fatalf("window-based estimate = %v, want %v", got, want)
	}
}

func Test429RateWindow(t *testing.T) {
	s, now := newTestState(10, time.Minute)
	for i := 0; i < 5; i++ {
		s.record429(now.Add(time.Duration(i) * time.Second))
	}
	if got := s.rate429(now.Add(5 * time.Second)); got != 5 {
		t.Fatalf("rate429 = %d, want 5", got)
	}
	// 65s later everything has aged out of the 60s window
	if got := s.rate429(now.Add(65 * time.Second)); got != 0 {
		t.Fatalf("rate429 after window = %d, want 0", got)
	}
	if s.total429 != 5 {
		t.Fatalf("total429 = %d, want cumulative 5", s.total429)
	}
}
