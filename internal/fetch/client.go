package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/matchfeed/sportsgate/internal/quota"
)

// Client performs one upstream request. Implementations classify transport
// failures; HTTP-level outcomes are returned in Response for the
// orchestrator to interpret.
type Client interface {
	Do(ctx context.Context, path string, params url.Values) (*Response, error)
}

// Response is the decoded upstream outcome the orchestrator works with.
type Response struct {
	Status     int
	Body       []byte
	Header     http.Header
	RetryAfter time.Duration // parsed Retry-After, 0 when absent
	Quota      *QuotaInfo    // body-reported quota, nil when absent
}

// QuotaInfo is a quota snapshot from the response body's rate_limit field.
// Remaining is -1 when the field was absent.
type QuotaInfo struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

const maxBodyBytes = 8 << 20

// HTTPClientConfig configures the upstream HTTP client.
type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Wire-level pacer, keeps actual calls smooth under the admission
	// ceiling. Zero PaceRPS disables pacing.
	PaceRPS   float64
	PaceBurst int
}

// HTTPClient is the real provider client.
type HTTPClient struct {
	cfg   HTTPClientConfig
	http  *http.Client
	pacer *rate.Limiter
	now   func() time.Time
}

// NewHTTPClient validates credentials up front: a missing API key is a
// ConfigurationError, not something to discover on the first live call.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, &ConfigurationError{Missing: "upstream base URL"}
	}
	if cfg.APIKey == "" {
		return nil, &ConfigurationError{Missing: "upstream API key"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	var pacer *rate.Limiter
	if cfg.PaceRPS > 0 {
		burst := cfg.PaceBurst
		if burst <= 0 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(cfg.PaceRPS), burst)
	}
	return &HTTPClient{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		pacer: pacer,
		now:   time.Now,
	}, nil
}

func (c *HTTPClient) Do(ctx context.Context, path string, params url.Values) (*Response, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("api_token", c.cfg.APIKey)
	requestURL := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/") + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// context cancellation is the caller's problem, not the transport's
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportTimeoutError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportTimeoutError{Cause: err}
	}

	return &Response{
		Status:     resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		Quota:      parseBodyQuota(body, c.now()),
	}, nil
}

// parseRetryAfter handles the delta-seconds form. The provider does not use
// the HTTP-date form.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

// bodyEnvelope covers both contract shapes: 200 bodies carry an optional
// rate_limit object; 429 bodies carry message/reset fields at the top level.
type bodyEnvelope struct {
	RateLimit *struct {
		Remaining *int  `json:"remaining"`
		Limit     *int  `json:"limit"`
		ResetAt   int64 `json:"reset_at"`
		Reset     int64 `json:"reset"`
	} `json:"rate_limit"`
	Message   string `json:"message"`
	ResetCode int    `json:"reset_code"`
	ResetAt   int64  `json:"reset_at"`
	Reset     int64  `json:"reset"`
}

// parseBodyQuota extracts a quota snapshot from a response body, tolerating
// non-JSON payloads (nil result).
func parseBodyQuota(body []byte, now time.Time) *QuotaInfo {
	if len(body) == 0 {
		return nil
	}
	var env bodyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}

	info := QuotaInfo{Remaining: -1}
	found := false
	if env.RateLimit != nil {
		found = true
		if env.RateLimit.Remaining != nil {
			info.Remaining = *env.RateLimit.Remaining
		}
		if env.RateLimit.Limit != nil {
			info.Limit = *env.RateLimit.Limit
		}
		if v := firstNonZero(env.RateLimit.ResetAt, env.RateLimit.Reset); v > 0 {
			info.ResetAt = quota.ResetTime(now, v)
		}
	}
	if v := firstNonZero(env.ResetAt, env.Reset); v > 0 {
		found = true
		info.ResetAt = quota.ResetTime(now, v)
	}
	if !found {
		return nil
	}
	return &info
}

func firstNonZero(vals ...int64) int64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
