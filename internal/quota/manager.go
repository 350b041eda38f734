package quota

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/matchfeed/sportsgate/internal/entity"
	"github.com/matchfeed/sportsgate/internal/observ"
)

// AlertThresholds are the observability trip points evaluated by CheckAlerts.
type AlertThresholds struct {
	LowRemainingWarning  int
	LowRemainingCritical int
	High429PerMinute     int
	CacheHitRateWarning  float64
	MinHitRateSamples    int64
}

// Config holds the admission controller tunables.
type Config struct {
	Capacity         int
	Window           time.Duration
	DegradeThreshold int
	Backoff          BackoffConfig
	Alerts           AlertThresholds
}

// DefaultConfig matches the provider contract: 3000 requests per hour per
// entity, degrade below 200 remaining.
func DefaultConfig() Config {
	return Config{
		Capacity:         3000,
		Window:           time.Hour,
		DegradeThreshold: 200,
		Backoff:          DefaultBackoff(),
		Alerts: AlertThresholds{
			LowRemainingWarning:  500,
			LowRemainingCritical: 200,
			High429PerMinute:     10,
			CacheHitRateWarning:  0.5,
			MinHitRateSamples:    10,
		},
	}
}

// Manager is the entity-scoped admission controller. It owns every
// entityState and the in-flight registry; one mutex serializes all state
// mutation and is never held across I/O. Entities are created lazily on
// first reference and live for the process lifetime.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	entities map[entity.Entity]*entityState
	inflight map[string]*Flight
	now      func() time.Time
}

// NewManager constructs an admission controller. Callers own the lifecycle;
// there is no package-level instance.
func NewManager(cfg Config) *Manager {
	return NewManagerWithClock(cfg, time.Now)
}

// NewManagerWithClock injects the clock, for simulated-time tests.
func NewManagerWithClock(cfg Config, now func() time.Time) *Manager {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 3000
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.DegradeThreshold <= 0 {
		cfg.DegradeThreshold = 200
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff()
	}
	return &Manager{
		cfg:      cfg,
		entities: make(map[entity.Entity]*entityState),
		inflight: make(map[string]*Flight),
		now:      now,
	}
}

// state returns the record for an entity, creating it on first reference.
// Caller holds m.mu.
func (m *Manager) state(e entity.Entity) *entityState {
	s, ok := m.entities[e]
	if !ok {
		s = newEntityState(e, m.cfg.Capacity, m.cfg.Window, m.now())
		m.entities[e] = s
	}
	return s
}

// Acquire asks for permission to make one upstream request for an entity.
// When denied it returns a wait estimate: the remaining cooldown, or the
// time until the sliding window frees a slot.
func (m *Manager) Acquire(e entity.Entity) (allowed bool, wait time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := m.state(e)

	if in, remaining := s.inCooldown(now); in {
		observ.IncCounter("admission_rejects_total", map[string]string{"entity": string(e), "reason": "cooldown"})
		return false, remaining
	}

	if s.tryConsume(now) {
		if s.evalDegrade(now, m.cfg.DegradeThreshold) {
			m.logDegradeTransition(s)
		}
		m.exportGauges(s)
		return true, 0
	}

	observ.IncCounter("admission_rejects_total", map[string]string{"entity": string(e), "reason": "exhausted"})
	return false, s.waitEstimate(now)
}

// header spellings seen across provider deployments, all lowercase.
var (
	remainingHeaders = []string{"x-ratelimit-remaining", "ratelimit-remaining", "x-rate-limit-remaining"}
	limitHeaders     = []string{"x-ratelimit-limit", "ratelimit-limit", "x-rate-limit-limit"}
	resetHeaders     = []string{"x-ratelimit-reset", "ratelimit-reset", "x-rate-limit-reset"}
)

// ObserveHeaders extracts quota metadata from response headers, tolerating
// the known casing/naming variants, and folds it into entity state.
func (m *Manager) ObserveHeaders(e entity.Entity, h http.Header) {
	remaining := headerInt(h, remainingHeaders)
	limit := headerInt(h, limitHeaders)
	var resetAt time.Time
	if v := headerInt64(h, resetHeaders); v > 0 {
		resetAt = ResetTime(m.now(), v)
	}
	if remaining < 0 && limit <= 0 && resetAt.IsZero() {
		return
	}
	m.ObserveQuota(e, remaining, limit, resetAt)
}

// ObserveQuota folds a provider quota snapshot into entity state. Pass -1 for
// remaining, 0 for limit, and the zero time for resetAt when absent.
func (m *Manager) ObserveQuota(e entity.Entity, remaining, limit int, resetAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := m.state(e)
	s.observeQuota(now, remaining, limit, resetAt)
	if s.evalDegrade(now, m.cfg.DegradeThreshold) {
		m.logDegradeTransition(s)
	}
	m.exportGauges(s)
}

// Handle429 records an upstream throttling response and puts the entity into
// cooldown. Precedence for the duration: Retry-After, then the provider's
// reset time, then exponential backoff on the 429 count; jitter applies to
// whichever was chosen. Returns the applied duration so the caller can sleep
// exactly that long.
func (m *Manager) Handle429(e entity.Entity, retryAfter time.Duration, resetAt time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := m.state(e)
	s.record429(now)

	var d time.Duration
	var reason string
	switch {
	case retryAfter > 0:
		d = retryAfter
		reason = "retry_after"
	case resetAt.After(now):
		d = resetAt.Sub(now)
		reason = "reset_at"
	default:
		attempt := int(s.total429) - 1
		d = m.cfg.Backoff.Delay(attempt)
		reason = "backoff"
	}
	d = m.cfg.Backoff.Jitter(d)
	s.startCooldown(now, d, reason)

	observ.IncCounter("upstream_429_total", map[string]string{"entity": string(e)})
	observ.Log("cooldown_start", map[string]any{
		"entity":      string(e),
		"reason":      reason,
		"duration_ms": d.Milliseconds(),
		"total_429":   s.total429,
	})
	return d
}

// IsDegraded reports whether the entity is in degrade mode.
func (m *Manager) IsDegraded(e entity.Entity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(e).degraded
}

// RecordCacheHit counts a cache hit for the entity's hit-rate alert.
func (m *Manager) RecordCacheHit(e entity.Entity) {
	m.mu.Lock()
	m.state(e).cacheHits++
	m.mu.Unlock()
	observ.IncCounter("cache_hits_total", map[string]string{"entity": string(e)})
}

// RecordCacheMiss counts a cache miss for the entity's hit-rate alert.
func (m *Manager) RecordCacheMiss(e entity.Entity) {
	m.mu.Lock()
	m.state(e).cacheMisses++
	m.mu.Unlock()
	observ.IncCounter("cache_misses_total", map[string]string{"entity": string(e)})
}

// EntityMetrics is a point-in-time snapshot of one entity's quota state.
type EntityMetrics struct {
	Entity            string  `json:"entity"`
	Capacity          int     `json:"capacity"`
	WindowSeconds     int     `json:"window_seconds"`
	Tokens            int     `json:"tokens"`
	WindowCount       int     `json:"window_count"`
	RemoteRemaining   int     `json:"remote_remaining"`
	RemoteLimit       int     `json:"remote_limit"`
	RemoteResetAt     int64   `json:"remote_reset_at,omitempty"`
	InCooldown        bool    `json:"in_cooldown"`
	CooldownRemaining float64 `json:"cooldown_remaining_s,omitempty"`
	CooldownReason    string  `json:"cooldown_reason,omitempty"`
	Degraded          bool    `json:"degraded"`
	TotalRequests     int64   `json:"total_requests"`
	Total429          int64   `json:"total_429"`
	CacheHits         int64   `json:"cache_hits"`
	CacheMisses       int64   `json:"cache_misses"`
	Recent429PerMin   int     `json:"recent_429_per_min"`
}

// Metrics returns the snapshot for one entity.
func (m *Manager) Metrics(e entity.Entity) EntityMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(m.state(e))
}

// AllMetrics returns snapshots for every entity seen so far, sorted by name.
func (m *Manager) AllMetrics() []EntityMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EntityMetrics, 0, len(m.entities))
	for _, s := range m.entities {
		out = append(out, m.snapshot(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}

// snapshot builds an EntityMetrics; caller holds m.mu.
func (m *Manager) snapshot(s *entityState) EntityMetrics {
	now := m.now()
	s.pruneWindow(now)
	em := EntityMetrics{
		Entity:          string(s.name),
		Capacity:        s.capacity,
		WindowSeconds:   int(s.window.Seconds()),
		Tokens:          s.tokens,
		WindowCount:     len(s.admitted),
		RemoteRemaining: s.remoteRemaining,
		RemoteLimit:     s.remoteLimit,
		Degraded:        s.degraded,
		TotalRequests:   s.totalRequests,
		Total429:        s.total429,
		CacheHits:       s.cacheHits,
		CacheMisses:     s.cacheMisses,
		Recent429PerMin: s.rate429(now),
	}
	if !s.remoteResetAt.IsZero() {
		em.RemoteResetAt = s.remoteResetAt.Unix()
	}
	if in, remaining := s.inCooldown(now); in {
		em.InCooldown = true
		em.CooldownRemaining = remaining.Seconds()
		em.CooldownReason = s.cooldownReason
	}
	return em
}

// Alert is one observability finding from CheckAlerts.
type Alert struct {
	Level   string `json:"level"` // "warning" | "critical"
	Entity  string `json:"entity"`
	Message string `json:"message"`
}

// CheckAlerts evaluates every entity against the configured thresholds:
// low remote-remaining, high 429 rate in the trailing minute, and low cache
// hit rate once enough samples exist.
func (m *Manager) CheckAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	names := make([]entity.Entity, 0, len(m.entities))
	for name := range m.entities {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var alerts []Alert
	th := m.cfg.Alerts
	for _, name := range names {
		s := m.entities[name]

		if s.remoteRemaining >= 0 {
			switch {
			case s.remoteRemaining < th.LowRemainingCritical:
				alerts = append(alerts, Alert{
					Level:   "critical",
					Entity:  string(name),
					Message: fmt.Sprintf("remote remaining %d below critical threshold %d", s.remoteRemaining, th.LowRemainingCritical),
				})
			case s.remoteRemaining < th.LowRemainingWarning:
				alerts = append(alerts, Alert{
					Level:   "warning",
					Entity:  string(name),
					Message: fmt.Sprintf("remote remaining %d below warning threshold %d", s.remoteRemaining, th.LowRemainingWarning),
				})
			}
		}

		if rate := s.rate429(now); rate > th.High429PerMinute {
			alerts = append(alerts, Alert{
				Level:   "critical",
				Entity:  string(name),
				Message: fmt.Sprintf("%d upstream 429s in the last minute (threshold %d)", rate, th.High429PerMinute),
			})
		}

		samples := s.cacheHits + s.cacheMisses
		if samples > th.MinHitRateSamples {
			rate := float64(s.cacheHits) / float64(samples)
			if rate < th.CacheHitRateWarning {
				alerts = append(alerts, Alert{
					Level:   "warning",
					Entity:  string(name),
					Message: fmt.Sprintf("cache hit rate %.2f below threshold %.2f (%d samples)", rate, th.CacheHitRateWarning, samples),
				})
			}
		}
	}
	return alerts
}

// logDegradeTransition emits the observability event for a degrade flip.
// Caller holds m.mu.
func (m *Manager) logDegradeTransition(s *entityState) {
	observ.Log("degrade_transition", map[string]any{
		"entity":           string(s.name),
		"degraded":         s.degraded,
		"remote_remaining": s.remoteRemaining,
	})
	v := 0.0
	if s.degraded {
		v = 1.0
	}
	observ.SetGauge("entity_degraded", v, map[string]string{"entity": string(s.name)})
}

// exportGauges pushes the entity's live quota state into the metrics
// registry. Caller holds m.mu.
func (m *Manager) exportGauges(s *entityState) {
	labels := map[string]string{"entity": string(s.name)}
	observ.SetGauge("quota_tokens", float64(s.tokens), labels)
	observ.SetGauge("quota_window_count", float64(len(s.admitted)), labels)
	if s.remoteRemaining >= 0 {
		observ.SetGauge("quota_remote_remaining", float64(s.remoteRemaining), labels)
	}
}

// ResetTime interprets a provider reset value: small values are seconds from
// now, large values are absolute Unix timestamps. Past timestamps mean the
// window already reset and yield the zero time.
func ResetTime(now time.Time, v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v < 1_000_000 {
		return now.Add(time.Duration(v) * time.Second)
	}
	t := time.Unix(v, 0)
	if t.Before(now) {
		return time.Time{}
	}
	return t
}

func headerInt(h http.Header, names []string) int {
	v := headerInt64(h, names)
	if v < 0 {
		return -1
	}
	return int(v)
}

// headerInt64 scans the header map case-insensitively for any of the given
// lowercase names. Returns -1 when absent or unparseable.
func headerInt64(h http.Header, names []string) int64 {
	for key, vals := range h {
		lk := strings.ToLower(key)
		for _, name := range names {
			if lk != name {
				continue
			}
			for _, raw := range vals {
				if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
					return n
				}
			}
		}
	}
	return -1
}
