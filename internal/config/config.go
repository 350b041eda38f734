package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr string `yaml:"addr"`
}

type Upstream struct {
	BaseURL      string `yaml:"base_url"`
	APIKeyEnvVar string `yaml:"api_key_env_var"`
	TimeoutMs    int    `yaml:"timeout_ms"`
	PaceBurst    int    `yaml:"pace_burst"` // burst for the wire-level pacer
}

type Quota struct {
	Capacity         int `yaml:"capacity"`
	WindowSeconds    int `yaml:"window_seconds"`
	DegradeThreshold int `yaml:"degrade_threshold"`
}

type Backoff struct {
	BaseDelayMs    int     `yaml:"base_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms"`
	Factor         float64 `yaml:"factor"`
	JitterFraction float64 `yaml:"jitter_fraction"`
}

type Cache struct {
	Backend   string `yaml:"backend"` // "memory" | "redis" | "none"
	RedisAddr string `yaml:"redis_addr"`
	Namespace string `yaml:"namespace"`
}

type Alerts struct {
	LowRemainingWarning  int     `yaml:"low_remaining_warning"`
	LowRemainingCritical int     `yaml:"low_remaining_critical"`
	High429PerMinute     int     `yaml:"high_429_per_minute"`
	CacheHitRateWarning  float64 `yaml:"cache_hit_rate_warning"`
	MinHitRateSamples    int64   `yaml:"min_hit_rate_samples"`
}

type Fetch struct {
	MaxAttempts        int  `yaml:"max_attempts"`
	AdmissionPatienceS int  `yaml:"admission_patience_seconds"`
	FallbackToCache    bool `yaml:"fallback_to_cache"`
}

type Root struct {
	Server   Server   `yaml:"server"`
	Upstream Upstream `yaml:"upstream"`
	Quota    Quota    `yaml:"quota"`
	Backoff  Backoff  `yaml:"backoff"`
	Cache    Cache    `yaml:"cache"`
	Alerts   Alerts   `yaml:"alerts"`
	Fetch    Fetch    `yaml:"fetch"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	return c, nil
}

// Defaults returns a fully defaulted configuration without reading a file.
func Defaults() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Root) {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}

	if c.Upstream.APIKeyEnvVar == "" {
		c.Upstream.APIKeyEnvVar = "SPORTSGATE_API_KEY"
	}
	if c.Upstream.TimeoutMs == 0 {
		c.Upstream.TimeoutMs = 10000
	}
	if c.Upstream.PaceBurst == 0 {
		c.Upstream.PaceBurst = 10
	}

	if c.Quota.Capacity == 0 {
		c.Quota.Capacity = 3000
	}
	if c.Quota.WindowSeconds == 0 {
		c.Quota.WindowSeconds = 3600
	}
	if c.Quota.DegradeThreshold == 0 {
		c.Quota.DegradeThreshold = 200
	}

	if c.Backoff.BaseDelayMs == 0 {
		c.Backoff.BaseDelayMs = 1000
	}
	if c.Backoff.MaxDelayMs == 0 {
		c.Backoff.MaxDelayMs = 300000
	}
	if c.Backoff.Factor == 0 {
		c.Backoff.Factor = 2.0
	}
	if c.Backoff.JitterFraction == 0 {
		c.Backoff.JitterFraction = 0.3
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = "localhost:6379"
	}
	if c.Cache.Namespace == "" {
		c.Cache.Namespace = "sportsgate"
	}

	if c.Alerts.LowRemainingWarning == 0 {
		c.Alerts.LowRemainingWarning = 500
	}
	if c.Alerts.LowRemainingCritical == 0 {
		c.Alerts.LowRemainingCritical = 200
	}
	if c.Alerts.High429PerMinute == 0 {
		c.Alerts.High429PerMinute = 10
	}
	if c.Alerts.CacheHitRateWarning == 0 {
		c.Alerts.CacheHitRateWarning = 0.5
	}
	if c.Alerts.MinHitRateSamples == 0 {
		c.Alerts.MinHitRateSamples = 10
	}

	if c.Fetch.MaxAttempts == 0 {
		c.Fetch.MaxAttempts = 3
	}
	if c.Fetch.AdmissionPatienceS == 0 {
		c.Fetch.AdmissionPatienceS = 30
	}
}
