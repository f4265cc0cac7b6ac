package resilient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTokenRefreshBuffer is subtracted from the server-reported lifetime.
	DefaultTokenRefreshBuffer = 60 * time.Second

	maxTokenResponseSize = 1 << 20
)

// Credential is a bearer token with its effective expiry (buffer already applied).
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the credential is usable at now.
func (c Credential) Valid(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

// AuthStyle selects where client credentials are sent to the token endpoint.
type AuthStyle int

const (
	// AuthStyleBasic sends client id and secret as HTTP Basic auth.
	AuthStyleBasic AuthStyle = iota
	// AuthStyleInParams sends client id and secret in the form body.
	AuthStyleInParams
)

// ClientCredentials configures an OAuth2 client_credentials exchange.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthStyle    AuthStyle
}

// RefreshFunc obtains a fresh token and its server-reported lifetime.
type RefreshFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenCache holds a bearer credential and refreshes it on demand.
//
// Reads of a valid credential are lock-free. When the credential is missing or
// expired, at most one refresh is in flight; concurrent callers share its result.
// A failed refresh never replaces the cached credential.
type TokenCache struct {
	refresh    RefreshFunc
	httpClient *http.Client
	buffer     time.Duration
	timeout    time.Duration
	clock      func() time.Time
	logger     zerolog.Logger

	current   atomic.Pointer[Credential]
	group     singleflight.Group
	refreshes atomic.Uint64
}

// TokenOption configures a TokenCache.
type TokenOption func(*TokenCache)

// WithTokenBuffer sets the safety margin subtracted from the reported expiry.
func WithTokenBuffer(d time.Duration) TokenOption {
	return func(c *TokenCache) {
		if d >= 0 {
			c.buffer = d
		}
	}
}

// WithTokenTimeout bounds a single refresh.
func WithTokenTimeout(d time.Duration) TokenOption {
	return func(c *TokenCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTokenHTTPClient sets the client used for the token endpoint.
func WithTokenHTTPClient(hc *http.Client) TokenOption {
	return func(c *TokenCache) { c.httpClient = hc }
}

// WithTokenLogger sets the logger for refresh events.
func WithTokenLogger(l zerolog.Logger) TokenOption {
	return func(c *TokenCache) { c.logger = l }
}

// WithTokenClock overrides the time source. Intended for tests.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(c *TokenCache) { c.clock = now }
}

// NewTokenCache returns a cache that exchanges client credentials at creds.TokenURL.
func NewTokenCache(creds ClientCredentials, opts ...TokenOption) *TokenCache {
	c := newTokenCache(opts)
	c.refresh = clientCredentialsExchange(creds, c.httpClient)
	return c
}

// NewTokenCacheFunc returns a cache backed by an arbitrary refresh function.
func NewTokenCacheFunc(refresh RefreshFunc, opts ...TokenOption) *TokenCache {
	c := newTokenCache(opts)
	c.refresh = refresh
	return c
}

func newTokenCache(opts []TokenOption) *TokenCache {
	c := &TokenCache{
		buffer:  DefaultTokenRefreshBuffer,
		timeout: 30 * time.Second,
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// Token returns a valid credential, refreshing it first if needed.
func (c *TokenCache) Token(ctx context.Context) (Credential, error) {
	if cred := c.current.Load(); cred != nil && cred.Valid(c.now()) {
		return *cred, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		return c.doRefresh(ctx)
	})

	select {
	case <-ctx.Done():
		return Credential{}, fmt.Errorf("resilient: waiting for token: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

// Authenticate implements Authenticator by attaching a bearer header.
func (c *TokenCache) Authenticate(ctx context.Context, req *http.Request) error {
	cred, err := c.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	return nil
}

// Invalidate drops the cached credential so the next Token call refreshes.
func (c *TokenCache) Invalidate() {
	c.current.Store(nil)
}

// invalidate drops the cached credential only if it still holds token, so a
// stale rejection cannot discard a newer credential.
func (c *TokenCache) invalidate(token string) {
	if cur := c.current.Load(); cur != nil && cur.Token == token {
		c.current.CompareAndSwap(cur, nil)
	}
}

// Refreshes returns how many successful refreshes the cache has performed.
func (c *TokenCache) Refreshes() uint64 {
	return c.refreshes.Load()
}

func (c *TokenCache) doRefresh(ctx context.Context) (Credential, error) {
	// Another flight may have finished between the fast-path check and DoChan.
	if cred := c.current.Load(); cred != nil && cred.Valid(c.now()) {
		return *cred, nil
	}

	// The refresh is shared, so one caller giving up must not abort it.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	token, expiresIn, err := c.refresh(rctx)
	if err == nil {
		switch {
		case strings.TrimSpace(token) == "":
			err = &AuthError{Err: &SchemaError{Type: "token response", Field: "access_token", Err: errors.New("empty")}}
		case expiresIn <= 0:
			err = &AuthError{Err: &SchemaError{Type: "token response", Field: "expires_in", Err: errors.New("must be positive")}}
		}
	}
	if err != nil {
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			err = &AuthError{Err: err}
		}
		c.logger.Error().Err(err).Msg("token refresh failed")
		return Credential{}, err
	}

	buffer := c.buffer
	if expiresIn <= buffer {
		buffer = expiresIn / 2
	}

	cred := &Credential{
		Token:     token,
		ExpiresAt: c.now().Add(expiresIn - buffer),
	}
	c.current.Store(cred)
	c.refreshes.Add(1)

	c.logger.Info().
		Dur("expires_in", expiresIn).
		Time("expires_at", cred.ExpiresAt).
		Msg("token refreshed")

	return *cred, nil
}

func (c *TokenCache) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

func clientCredentialsExchange(creds ClientCredentials, hc *http.Client) RefreshFunc {
	return func(ctx context.Context) (string, time.Duration, error) {
		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		if len(creds.Scopes) > 0 {
			form.Set("scope", strings.Join(creds.Scopes, " "))
		}
		if creds.AuthStyle == AuthStyleInParams {
			form.Set("client_id", creds.ClientID)
			form.Set("client_secret", creds.ClientSecret)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return "", 0, &AuthError{Err: err}
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		if creds.AuthStyle == AuthStyleBasic {
			req.SetBasicAuth(url.QueryEscape(creds.ClientID), url.QueryEscape(creds.ClientSecret))
		}

		resp, err := hc.Do(req)
		if err != nil {
			return "", 0, &AuthError{Err: &NetworkError{Method: req.Method, URL: creds.TokenURL, Err: err}}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
		if err != nil {
			return "", 0, &AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read token response: %w", err)}
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return "", 0, &AuthError{StatusCode: resp.StatusCode, Err: errors.New(truncate(body, 256))}
		}

		var tr tokenResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			return "", 0, &AuthError{StatusCode: resp.StatusCode, Err: &SchemaError{Type: "token response", Err: err}}
		}

		return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
	}
}
