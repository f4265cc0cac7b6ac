package resilient

import (
	"context"
	"net/http"
	"strings"
)

// Authenticator decorates an outbound request with credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, req *http.Request) error
}

// APIKey authenticates with a static key sent as a header or query parameter.
// When both Header and Query are empty the key is sent as X-API-Key.
type APIKey struct {
	Key    string
	Header string
	Query  string
}

// Authenticate implements Authenticator.
func (k APIKey) Authenticate(_ context.Context, req *http.Request) error {
	if strings.TrimSpace(k.Query) != "" {
		q := req.URL.Query()
		q.Set(k.Query, k.Key)
		req.URL.RawQuery = q.Encode()
	}
	if strings.TrimSpace(k.Header) != "" {
		req.Header.Set(k.Header, k.Key)
	}
	if strings.TrimSpace(k.Query) == "" && strings.TrimSpace(k.Header) == "" {
		req.Header.Set("X-API-Key", k.Key)
	}
	return nil
}

// StaticToken authenticates with a fixed bearer token.
type StaticToken string

// Authenticate implements Authenticator.
func (t StaticToken) Authenticate(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+string(t))
	return nil
}
