package fetch

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/matchfeed/sportsgate/internal/cache"
	"github.com/matchfeed/sportsgate/internal/entity"
	"github.com/matchfeed/sportsgate/internal/observ"
	"github.com/matchfeed/sportsgate/internal/quota"
)

// Config holds orchestrator tunables.
type Config struct {
	Namespace         string
	MaxAttempts       int
	AdmissionPatience time.Duration
	// FallbackToCache serves a still-present cache entry after retries are
	// exhausted instead of failing the request.
	FallbackToCache bool
	Backoff         quota.BackoffConfig
}

// Orchestrator runs the cache-aside fetch flow: resolve entity, degrade
// check, cache check, coalesce, admission, upstream call, quota sync, cache
// write-through. It holds no shared state of its own; the Manager owns all
// contended state.
type Orchestrator struct {
	client  Client
	store   cache.Store
	manager *quota.Manager
	cfg     Config

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewOrchestrator(client Client, store cache.Store, manager *quota.Manager, cfg Config) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AdmissionPatience <= 0 {
		cfg.AdmissionPatience = 30 * time.Second
	}
	if cfg.Backoff == (quota.BackoffConfig{}) {
		cfg.Backoff = quota.DefaultBackoff()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "sportsgate"
	}
	return &Orchestrator{
		client:  client,
		store:   store,
		manager: manager,
		cfg:     cfg,
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// Fetch executes one logical upstream fetch with caching, coalescing,
// admission control, and retries. The returned payload is the raw upstream
// body; a 200 with no data is a success, not an error.
func (o *Orchestrator) Fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	ent := entity.FromPath(path)
	key := entity.CacheKey(o.cfg.Namespace, ent, path, params)

	// Degrade mode: cache-only service, fail fast to protect the budget.
	if o.manager.IsDegraded(ent) {
		if b, ok := o.cacheGet(ctx, key); ok {
			o.manager.RecordCacheHit(ent)
			return b, nil
		}
		o.manager.RecordCacheMiss(ent)
		observ.IncCounter("degraded_rejects_total", map[string]string{"entity": string(ent)})
		return nil, &DegradedNoCacheError{Entity: ent, Key: key}
	}

	if b, ok := o.cacheGet(ctx, key); ok {
		o.manager.RecordCacheHit(ent)
		return b, nil
	}
	o.manager.RecordCacheMiss(ent)

	// Coalesce: identical in-flight requests share one upstream call.
	flight, leader := o.manager.JoinFlight(key)
	if !leader {
		observ.IncCounter("coalesced_waits_total", map[string]string{"entity": string(ent)})
		return flight.Wait(ctx)
	}

	payload, err := o.fetchUpstream(ctx, ent, path, params, key)
	o.manager.CompleteFlight(key, flight, payload, err)
	return payload, err
}

// fetchUpstream is the leader's retry loop.
func (o *Orchestrator) fetchUpstream(ctx context.Context, ent entity.Entity, path string, params url.Values, key string) ([]byte, error) {
	labels := map[string]string{"entity": string(ent)}
	var lastErr error

	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		if err := o.admit(ctx, ent); err != nil {
			return nil, err
		}

		started := o.now()
		resp, err := o.client.Do(ctx, path, params)
		observ.IncCounter("upstream_requests_total", labels)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			// Timeouts do not refund the consumed token: under-using quota
			// is safer than over-using it.
			lastErr = err
			observ.LogError("upstream_attempt_failed", err, map[string]any{"entity": string(ent), "attempt": attempt})
			if serr := o.sleep(ctx, o.cfg.Backoff.Jitter(o.cfg.Backoff.Delay(attempt))); serr != nil {
				return nil, serr
			}
			continue
		}
		observ.RecordDuration("upstream_latency", o.now().Sub(started), labels)

		switch {
		case resp.Status == 200:
			o.manager.ObserveHeaders(ent, resp.Header)
			if resp.Quota != nil {
				o.manager.ObserveQuota(ent, resp.Quota.Remaining, resp.Quota.Limit, resp.Quota.ResetAt)
			}
			o.cacheSet(ctx, key, resp.Body, ent.TTL())
			return resp.Body, nil

		case resp.Status == 429:
			var resetAt time.Time
			if resp.Quota != nil {
				resetAt = resp.Quota.ResetAt
			}
			d := o.manager.Handle429(ent, resp.RetryAfter, resetAt)
			lastErr = &RateLimitExceededError{Entity: ent, Attempts: attempt + 1, Cooldown: d}
			if serr := o.sleep(ctx, d); serr != nil {
				return nil, serr
			}
			continue

		default:
			lastErr = &UpstreamError{Status: resp.Status, Body: truncate(resp.Body, 512)}
			observ.IncCounter("upstream_errors_total", map[string]string{"entity": string(ent), "status": strconv.Itoa(resp.Status)})
			if serr := o.sleep(ctx, o.cfg.Backoff.Jitter(o.cfg.Backoff.Delay(attempt))); serr != nil {
				return nil, serr
			}
			continue
		}
	}

	// Retries exhausted. A cache entry written by a concurrent flight (or
	// one that outlived the failure) beats surfacing the error.
	if o.cfg.FallbackToCache {
		if b, ok := o.cacheGet(ctx, key); ok {
			observ.Log("fetch_fallback_to_cache", map[string]any{"entity": string(ent), "key": key})
			return b, nil
		}
	}
	return nil, lastErr
}

// admit waits for admission: one attempt, then one retry after sleeping the
// controller's wait estimate. Waits beyond the configured patience fail
// immediately so callers are not parked for most of an hour.
func (o *Orchestrator) admit(ctx context.Context, ent entity.Entity) error {
	allowed, wait := o.manager.Acquire(ent)
	if allowed {
		return nil
	}
	if wait > o.cfg.AdmissionPatience {
		return &AdmissionTimeoutError{Entity: ent, Wait: wait}
	}
	if err := o.sleep(ctx, wait); err != nil {
		return err
	}
	allowed, wait = o.manager.Acquire(ent)
	if allowed {
		return nil
	}
	return &AdmissionTimeoutError{Entity: ent, Wait: wait}
}

func (o *Orchestrator) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if o.store == nil {
		return nil, false
	}
	return o.store.Get(ctx, key)
}

func (o *Orchestrator) cacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if o.store == nil {
		return
	}
	o.store.Set(ctx, key, value, ttl)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
