package resilient

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Client.
type Option func(*config)

type config struct {
	baseURL          string
	policy           BackoffPolicy
	jitter           float64
	limiter          *RateLimiter
	rps              float64
	adaptive         bool
	adaptiveCooldown time.Duration
	maxResponseSize  int64
	timeout          time.Duration
	httpClient       *http.Client
	auth             Authenticator
	idempotentOnly   bool
	cacheTTL         time.Duration
	cacheSize        int
	logger           zerolog.Logger

	onRetry      func(attempt int, delay time.Duration, err error)
	requestHook  func(req *http.Request)
	responseHook func(resp *http.Response)
}

func defaultConfig() *config {
	d := DefaultConfig()
	return &config{
		policy:           NewBackoffPolicy(d.BackoffBase, d.BackoffCap, d.MaxRetries),
		rps:              d.CallsPerSecond,
		adaptiveCooldown: 5 * time.Minute,
		maxResponseSize:  10 * 1024 * 1024, // 10 MB
		timeout:          d.RequestTimeout,
		logger:           zerolog.Nop(),
	}
}

// WithConfig applies the client-related fields of cfg. Zero durations, rates
// and URLs keep their defaults; MaxRetries is applied unless negative.
func WithConfig(cfg Config) Option {
	return func(c *config) {
		if cfg.BaseURL != "" {
			c.baseURL = cfg.BaseURL
		}
		if cfg.CallsPerSecond > 0 {
			c.rps = cfg.CallsPerSecond
		}
		if cfg.MaxRetries >= 0 {
			c.policy.MaxRetries = cfg.MaxRetries
		}
		if cfg.BackoffBase > 0 {
			c.policy.Base = cfg.BackoffBase
		}
		if cfg.BackoffCap > 0 {
			c.policy.Cap = cfg.BackoffCap
		}
		if cfg.RequestTimeout > 0 {
			c.timeout = cfg.RequestTimeout
		}
		if cfg.ResponseCacheTTL > 0 {
			c.cacheTTL = cfg.ResponseCacheTTL
		}
	}
}

// WithBaseURL sets the prefix for relative request URLs.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithRateLimit limits outbound calls to callsPerSecond using a limiter owned by
// the client.
func WithRateLimit(callsPerSecond float64) Option {
	return func(c *config) { c.rps = callsPerSecond }
}

// WithRateLimiter shares an existing limiter. It takes precedence over WithRateLimit.
func WithRateLimiter(l *RateLimiter) Option {
	return func(c *config) { c.limiter = l }
}

// WithRetry sets the maximum number of retries and the base backoff delay.
// The delay doubles on each retry.
func WithRetry(maxRetries int, base time.Duration) Option {
	return func(c *config) {
		c.policy.MaxRetries = maxRetries
		c.policy.Base = base
	}
}

// WithBackoffCap bounds every retry delay.
func WithBackoffCap(d time.Duration) Option {
	return func(c *config) { c.policy.Cap = d }
}

// WithBackoffPolicy replaces the whole retry policy.
func WithBackoffPolicy(p BackoffPolicy) Option {
	return func(c *config) { c.policy = p }
}

// WithJitter randomizes each delay by ±fraction (0.25 means ±25%).
func WithJitter(fraction float64) Option {
	return func(c *config) {
		if fraction >= 0 && fraction < 1 {
			c.jitter = fraction
		}
	}
}

// WithAdaptive halves the rate on a 429 and restores it after cooldown.
func WithAdaptive(cooldown time.Duration) Option {
	return func(c *config) {
		c.adaptive = true
		c.adaptiveCooldown = cooldown
	}
}

// WithTimeout bounds each attempt, including reading the response body.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxResponseSize sets the maximum response body size in bytes. A larger
// body fails the request with a *SchemaError wrapping ErrResponseTooLarge.
// Zero or less means unlimited.
func WithMaxResponseSize(n int64) Option {
	return func(c *config) { c.maxResponseSize = n }
}

// WithRetryableStatus replaces the status codes that trigger a retry.
func WithRetryableStatus(codes ...int) Option {
	return func(c *config) {
		c.policy.RetryableStatus = make(map[int]bool, len(codes))
		for _, code := range codes {
			c.policy.RetryableStatus[code] = true
		}
	}
}

// WithHTTPClient sets a custom underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithAuth authenticates every request that does not set SkipAuth.
func WithAuth(a Authenticator) Option {
	return func(c *config) { c.auth = a }
}

// WithIdempotentRetriesOnly disables retries for POST and PATCH.
func WithIdempotentRetriesOnly() Option {
	return func(c *config) { c.idempotentOnly = true }
}

// WithResponseCache keeps successful GET responses for ttl. Cached responses
// are served without authentication, rate limiting or dispatch and have
// FromCache set. A non-positive ttl disables the cache.
func WithResponseCache(ttl time.Duration) Option {
	return func(c *config) { c.cacheTTL = ttl }
}

// WithResponseCacheSize bounds the number of cached responses. The least
// recently used entry is evicted first.
func WithResponseCacheSize(n int) Option {
	return func(c *config) { c.cacheSize = n }
}

// WithLogger sets the logger used for retry and failure events.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithOnRetry sets a callback invoked before each retry sleep.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(c *config) { c.onRetry = fn }
}

// WithRequestHook sets a hook called before each attempt is sent.
func WithRequestHook(fn func(req *http.Request)) Option {
	return func(c *config) { c.requestHook = fn }
}

// WithResponseHook sets a hook called after each response is received.
func WithResponseHook(fn func(resp *http.Response)) Option {
	return func(c *config) { c.responseHook = fn }
}
