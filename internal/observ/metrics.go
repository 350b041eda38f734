package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

func IncCounterBy(name string, labels map[string]string, value int64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)] += value
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordDuration records a duration observation in milliseconds.
func RecordDuration(name string, d time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(d.Milliseconds()), labels)
}

// Basic JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus summarizes gateway health for monitoring.
type HealthStatus struct {
	Status    string        `json:"status"` // "healthy", "degraded", "failed"
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Version   string        `json:"version"`
	Metrics   HealthMetrics `json:"metrics"`
}

// HealthMetrics holds the signals that matter for quota protection.
type HealthMetrics struct {
	UpstreamRequests int64   `json:"upstream_requests"`
	Upstream429s     int64   `json:"upstream_429s"`
	RateLimitRejects int64   `json:"rate_limit_rejects"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	DegradedEntities int     `json:"degraded_entities"`
	MinRemaining     float64 `json:"min_remote_remaining"` // -1 when unknown
}

var (
	startTime = time.Now()
	version   = "dev" // set via build flags
)

func SetVersion(v string) {
	version = v
}

// HealthHandler reports overall gateway health derived from the metrics
// registry: degraded when any entity is in degrade mode, failed when the
// upstream 429 share of recent requests is excessive.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		m := gatherHealthMetrics()
		reg.mu.Unlock()

		status := "healthy"
		if m.DegradedEntities > 0 {
			status = "degraded"
		}
		if m.UpstreamRequests > 100 && float64(m.Upstream429s)/float64(m.UpstreamRequests) > 0.1 {
			status = "failed"
		}

		health := HealthStatus{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Version:   version,
			Metrics:   m,
		}

		code := http.StatusOK
		switch status {
		case "degraded":
			code = http.StatusPartialContent
		case "failed":
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(health)
	})
}

// gatherHealthMetrics aggregates registry values; caller holds reg.mu.
func gatherHealthMetrics() HealthMetrics {
	m := HealthMetrics{MinRemaining: -1}

	sum := func(name string) int64 {
		var total int64
		for _, v := range reg.counters[name] {
			total += v
		}
		return total
	}

	m.UpstreamRequests = sum("upstream_requests_total")
	m.Upstream429s = sum("upstream_429_total")
	m.RateLimitRejects = sum("admission_rejects_total")
	m.CacheHits = sum("cache_hits_total")
	m.CacheMisses = sum("cache_misses_total")
	if m.CacheHits+m.CacheMisses > 0 {
		m.CacheHitRate = float64(m.CacheHits) / float64(m.CacheHits+m.CacheMisses)
	}

	for _, v := range reg.gauges["entity_degraded"] {
		if v == 1 {
			m.DegradedEntities++
		}
	}
	for _, v := range reg.gauges["quota_remote_remaining"] {
		if m.MinRemaining < 0 || v < m.MinRemaining {
			m.MinRemaining = v
		}
	}

	return m
}

// Reset clears the registry (for tests).
func Reset() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.counters = map[string]map[string]int64{}
	reg.gauges = map[string]map[string]float64{}
	reg.hist = map[string]map[string][]float64{}
}
