package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matchfeed/sportsgate/internal/cache"
	"github.com/matchfeed/sportsgate/internal/config"
	"github.com/matchfeed/sportsgate/internal/fetch"
	"github.com/matchfeed/sportsgate/internal/observ"
	"github.com/matchfeed/sportsgate/internal/quota"
)

func main() {
	configPath := flag.String("config", "config/gateway.yaml", "path to gateway config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Defaults()
		observ.Log("config_defaulted", map[string]any{"path": *configPath})
	}

	apiKey := os.Getenv(cfg.Upstream.APIKeyEnvVar)

	store := buildCache(cfg.Cache)

	backoff := quota.BackoffConfig{
		BaseDelay:      time.Duration(cfg.Backoff.BaseDelayMs) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.Backoff.MaxDelayMs) * time.Millisecond,
		Factor:         cfg.Backoff.Factor,
		JitterFraction: cfg.Backoff.JitterFraction,
	}
	manager := quota.NewManager(quota.Config{
		Capacity:         cfg.Quota.Capacity,
		Window:           time.Duration(cfg.Quota.WindowSeconds) * time.Second,
		DegradeThreshold: cfg.Quota.DegradeThreshold,
		Backoff:          backoff,
		Alerts: quota.AlertThresholds{
			LowRemainingWarning:  cfg.Alerts.LowRemainingWarning,
			LowRemainingCritical: cfg.Alerts.LowRemainingCritical,
			High429PerMinute:     cfg.Alerts.High429PerMinute,
			CacheHitRateWarning:  cfg.Alerts.CacheHitRateWarning,
			MinHitRateSamples:    cfg.Alerts.MinHitRateSamples,
		},
	})

	window := time.Duration(cfg.Quota.WindowSeconds) * time.Second
	client, err := fetch.NewHTTPClient(fetch.HTTPClientConfig{
		BaseURL:   cfg.Upstream.BaseURL,
		APIKey:    apiKey,
		Timeout:   time.Duration(cfg.Upstream.TimeoutMs) * time.Millisecond,
		PaceRPS:   float64(cfg.Quota.Capacity) / window.Seconds(),
		PaceBurst: cfg.Upstream.PaceBurst,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "upstream client: %v\n", err)
		os.Exit(1)
	}

	orch := fetch.NewOrchestrator(client, store, manager, fetch.Config{
		Namespace:         cfg.Cache.Namespace,
		MaxAttempts:       cfg.Fetch.MaxAttempts,
		AdmissionPatience: time.Duration(cfg.Fetch.AdmissionPatienceS) * time.Second,
		FallbackToCache:   cfg.Fetch.FallbackToCache,
		Backoff:           backoff,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.HealthHandler())
	mux.HandleFunc("/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(manager.CheckAlerts())
	})
	mux.HandleFunc("/quota", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(manager.AllMetrics())
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/")
		payload, err := orch.Fetch(r.Context(), path, r.URL.Query())
		if err != nil {
			writeFetchError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	})

	observ.Log("gateway_started", map[string]any{
		"addr":           cfg.Server.Addr,
		"cache_backend":  cfg.Cache.Backend,
		"quota_capacity": cfg.Quota.Capacity,
		"window_seconds": cfg.Quota.WindowSeconds,
	})

	if err := http.ListenAndServe(cfg.Server.Addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		os.Exit(1)
	}
}

func buildCache(c config.Cache) cache.Store {
	switch c.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		return cache.NewRedisStore(rdb)
	case "none":
		return nil
	default:
		return cache.NewMemoryStore(0)
	}
}

// writeFetchError maps the fetch error taxonomy onto HTTP statuses.
func writeFetchError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch err.(type) {
	case *fetch.AdmissionTimeoutError, *fetch.RateLimitExceededError:
		status = http.StatusTooManyRequests
	case *fetch.DegradedNoCacheError:
		status = http.StatusServiceUnavailable
	case *fetch.TransportTimeoutError:
		status = http.StatusGatewayTimeout
	case *fetch.UpstreamError:
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
