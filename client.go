package resilient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Stats holds atomic request counters.
type Stats struct {
	TotalRequests uint64 `json:"total_requests"`
	TotalAttempts uint64 `json:"total_attempts"`
	Retries       uint64 `json:"retries"`
	TotalErrors   uint64 `json:"total_errors"`
	RateLimited   uint64 `json:"rate_limited"`
	CacheHits     uint64 `json:"cache_hits"`
}

// StatsProvider exposes metrics for external collectors (Prometheus, OTel, etc.).
type StatsProvider interface {
	Stats() Stats
}

// RequestSpec describes one logical call. It is never modified by the Client.
type RequestSpec struct {
	Method string
	// URL is absolute, or a path appended to the client's base URL.
	URL    string
	Header map[string]string
	Query  map[string]string

	// At most one body source is used, in the order JSON, Form, Body.
	JSON any
	Form url.Values
	Body []byte

	// SkipAuth sends the request without consulting the Authenticator.
	SkipAuth bool
	// NoCache skips the response cache lookup. A successful response still
	// replaces the cached entry.
	NoCache bool
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Attempts is the number of dispatches it took to obtain this response.
	// It is zero for a cached response.
	Attempts int
	// FromCache reports whether the response was served from the response cache.
	FromCache bool
}

// Client is an HTTP session with authentication, rate limiting and retry with
// exponential backoff.
type Client struct {
	httpClient  *http.Client
	limiter     *RateLimiter
	ownsLimiter bool
	cache       *responseCache
	cfg         *config

	sleep func(ctx context.Context, d time.Duration) error

	totalReqs   atomic.Uint64
	attempts    atomic.Uint64
	retries     atomic.Uint64
	totalErrors atomic.Uint64
	rateLimited atomic.Uint64
	cacheHits   atomic.Uint64
}

// Compile-time interface check.
var _ StatsProvider = (*Client)(nil)

// New creates a new resilient Client with the given options.
func New(opts ...Option) *Client {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{}
	}

	lim := cfg.limiter
	owns := false
	if lim == nil {
		lim = NewRateLimiter(cfg.rps)
		owns = true
	}

	var cache *responseCache
	if cfg.cacheTTL > 0 {
		cache = newResponseCache(cfg.cacheSize, cfg.cacheTTL)
	}

	return &Client{
		httpClient:  hc,
		limiter:     lim,
		ownsLimiter: owns,
		cache:       cache,
		cfg:         cfg,
		sleep:       sleepContext,
	}
}

// Close releases resources held by the client. A shared limiter is left running.
func (c *Client) Close() {
	if c.ownsLimiter {
		c.limiter.Close()
	}
	c.PurgeCache()
}

// PurgeCache drops every cached response.
func (c *Client) PurgeCache() {
	if c.cache != nil {
		c.cache.purge()
	}
}

// Stats returns a snapshot of request statistics.
func (c *Client) Stats() Stats {
	return Stats{
		TotalRequests: c.totalReqs.Load(),
		TotalAttempts: c.attempts.Load(),
		Retries:       c.retries.Load(),
		TotalErrors:   c.totalErrors.Load(),
		RateLimited:   c.rateLimited.Load(),
		CacheHits:     c.cacheHits.Load(),
	}
}

// Limiter returns the rate limiter consulted before each attempt.
func (c *Client) Limiter() *RateLimiter {
	return c.limiter
}

// Policy returns the retry policy in effect.
func (c *Client) Policy() BackoffPolicy {
	return c.cfg.policy
}

// Request performs one logical call: authenticate once, then acquire the rate
// limiter and dispatch, retrying retryable failures per the backoff policy.
//
// On a 4xx the returned Response is non-nil alongside a *ClientError. When the
// retry budget runs out the error is an *ExhaustedRetriesError and the last
// response, if any, is returned with it.
func (c *Client) Request(ctx context.Context, spec RequestSpec) (*Response, error) {
	c.totalReqs.Add(1)

	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.resolveURL(spec.URL, spec.Query)
	if err != nil {
		c.totalErrors.Add(1)
		return nil, err
	}

	var key string
	if c.cache != nil && method == http.MethodGet {
		key = cacheKey(method, target)
		if !spec.NoCache {
			if resp, hit := c.cache.get(key); hit {
				c.cacheHits.Add(1)
				return resp, nil
			}
		}
	}

	body, contentType, err := encodeBody(spec)
	if err != nil {
		c.totalErrors.Add(1)
		return nil, err
	}

	tmpl, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		c.totalErrors.Add(1)
		return nil, fmt.Errorf("resilient: build request: %w", err)
	}
	if contentType != "" {
		tmpl.Header.Set("Content-Type", contentType)
	}
	for k, v := range spec.Header {
		tmpl.Header.Set(k, v)
	}
	if tmpl.Header.Get("X-Request-ID") == "" {
		tmpl.Header.Set("X-Request-ID", uuid.NewString())
	}
	requestID := tmpl.Header.Get("X-Request-ID")

	if c.cfg.auth != nil && !spec.SkipAuth {
		if err := c.cfg.auth.Authenticate(ctx, tmpl); err != nil {
			c.totalErrors.Add(1)
			return nil, err
		}
	}

	policy := c.cfg.policy
	maxRetries := policy.MaxRetries
	if c.cfg.idempotentOnly && !idempotent(method) {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			c.totalErrors.Add(1)
			return nil, err
		}

		resp, err := c.attempt(ctx, tmpl, target, body)
		if resp != nil {
			resp.Attempts = attempt + 1
		}
		if err == nil {
			if key != "" {
				c.cache.put(key, resp)
			}
			return resp, nil
		}
		c.totalErrors.Add(1)

		if ctx.Err() != nil || policy.Classify(err) == Fatal {
			c.cfg.logger.Debug().
				Str("request_id", requestID).
				Str("method", method).
				Str("url", spec.URL).
				Int("attempt", attempt).
				Err(err).
				Msg("request failed")
			return resp, err
		}

		if attempt >= maxRetries {
			c.cfg.logger.Warn().
				Str("request_id", requestID).
				Str("method", method).
				Str("url", spec.URL).
				Int("attempts", attempt+1).
				Err(err).
				Msg("retries exhausted")
			return resp, &ExhaustedRetriesError{Attempts: attempt + 1, Last: err}
		}

		delay := policy.delayFor(attempt, err, c.cfg.jitter)
		c.retries.Add(1)
		c.cfg.logger.Warn().
			Str("request_id", requestID).
			Str("method", method).
			Str("url", spec.URL).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("retrying request")
		if c.cfg.onRetry != nil {
			c.cfg.onRetry(attempt, delay, err)
		}

		if err := c.sleep(ctx, delay); err != nil {
			return resp, fmt.Errorf("resilient: retry wait: %w", err)
		}
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query map[string]string) (*Response, error) {
	return c.Request(ctx, RequestSpec{Method: http.MethodGet, URL: path, Query: query})
}

// Post performs a POST request with payload encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, payload any) (*Response, error) {
	return c.Request(ctx, RequestSpec{Method: http.MethodPost, URL: path, JSON: payload})
}

// PostForm performs a POST request with a form-encoded body.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.Request(ctx, RequestSpec{Method: http.MethodPost, URL: path, Form: form})
}

// Put performs a PUT request with payload encoded as JSON.
func (c *Client) Put(ctx context.Context, path string, payload any) (*Response, error) {
	return c.Request(ctx, RequestSpec{Method: http.MethodPut, URL: path, JSON: payload})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Request(ctx, RequestSpec{Method: http.MethodDelete, URL: path})
}

// DoJSON sends reqBody as JSON and decodes the response into respBody.
// It returns the final status code, or 0 if no response was received.
func (c *Client) DoJSON(ctx context.Context, method, path string, reqBody, respBody any) (int, error) {
	resp, err := c.Request(ctx, RequestSpec{
		Method: method,
		URL:    path,
		JSON:   reqBody,
		Header: map[string]string{"Accept": "application/json"},
	})
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		return status, err
	}

	if respBody != nil && len(resp.Body) > 0 {
		if err := decodeInto(resp.Body, respBody); err != nil {
			return status, err
		}
	}
	return status, nil
}

func (c *Client) attempt(ctx context.Context, tmpl *http.Request, target string, body []byte) (*Response, error) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if c.cfg.timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, c.cfg.timeout)
	}
	defer cancel()

	req := tmpl.Clone(actx)
	if body != nil {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	if c.cfg.requestHook != nil {
		c.cfg.requestHook(req)
	}

	c.attempts.Add(1)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, actx, req.Method, target, err)
	}
	defer resp.Body.Close()

	if c.cfg.responseHook != nil {
		c.cfg.responseHook(resp)
	}

	var src io.Reader = resp.Body
	if limit := c.cfg.maxResponseSize; limit > 0 {
		src = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, c.transportError(ctx, actx, req.Method, target, err)
	}

	if limit := c.cfg.maxResponseSize; limit > 0 && int64(len(data)) > limit {
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data[:limit]}, &SchemaError{
			Type: "response",
			Err:  fmt.Errorf("%w: body exceeds %d bytes", ErrResponseTooLarge, limit),
		}
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		if resp.StatusCode == http.StatusTooManyRequests {
			c.rateLimited.Add(1)
			if c.cfg.adaptive {
				c.limiter.Throttle(c.cfg.adaptiveCooldown)
			}
		}
		return out, &ServerError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			URL:        target,
			Body:       data,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 400:
		if resp.StatusCode == http.StatusUnauthorized {
			if tc, ok := c.cfg.auth.(*TokenCache); ok {
				tc.invalidate(strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer "))
			}
		}
		return out, &ClientError{StatusCode: resp.StatusCode, Method: req.Method, URL: target, Body: data}
	}

	return out, nil
}

// transportError maps a failed dispatch to the error taxonomy. A done caller
// context is reported as-is so it is never retried.
func (c *Client) transportError(parent, attemptCtx context.Context, method, target string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("resilient: %s %s: %w", method, target, parent.Err())
	}

	var netErr net.Error
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Method: method, URL: target, Timeout: c.cfg.timeout, Err: err}
	}
	return &NetworkError{Method: method, URL: target, Err: err}
}

func (c *Client) resolveURL(raw string, query map[string]string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("resilient: parse url %q: %w", raw, err)
	}

	target := raw
	if !u.IsAbs() {
		// Concatenated so a base path prefix such as /v1 is kept.
		target = c.cfg.baseURL + raw
		if u, err = url.Parse(target); err != nil {
			return "", fmt.Errorf("resilient: parse url %q: %w", target, err)
		}
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("resilient: url %q is not absolute", target)
	}

	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func encodeBody(spec RequestSpec) ([]byte, string, error) {
	switch {
	case spec.JSON != nil:
		data, err := json.Marshal(spec.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("resilient: marshal request: %w", err)
		}
		return data, "application/json", nil
	case spec.Form != nil:
		return []byte(spec.Form.Encode()), "application/x-www-form-urlencoded", nil
	case spec.Body != nil:
		return spec.Body, "", nil
	default:
		return nil, "", nil
	}
}

func idempotent(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch:
		return false
	default:
		return true
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// parseRetryAfter parses the Retry-After header value.
// It supports both seconds (integer) and HTTP-date formats.
// Returns the duration to wait, or 0 if unparseable.
func parseRetryAfter(val string) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}

	if secs, err := strconv.ParseFloat(val, 64); err == nil && secs >= 0 && !math.IsInf(secs, 0) {
		return time.Duration(math.Ceil(secs)) * time.Second
	}

	if t, err := http.ParseTime(val); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
