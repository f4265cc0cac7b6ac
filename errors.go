package resilient

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind identifies the category of a failure.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNetwork
	KindTimeout
	KindServer
	KindClient
	KindAuth
	KindExhausted
	KindSchema
	KindCanceled
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindAuth:
		return "auth"
	case KindExhausted:
		return "exhausted_retries"
	case KindSchema:
		return "schema"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ErrResponseTooLarge is wrapped in the *SchemaError returned when a response
// body exceeds the configured maximum size.
var ErrResponseTooLarge = errors.New("response body too large")

// NetworkError is a transport-level failure (connection refused, reset, DNS).
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("resilient: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError is returned when a single attempt exceeds the request timeout.
type TimeoutError struct {
	Method  string
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("resilient: %s %s: timed out after %s", e.Method, e.URL, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ServerError carries a 5xx or 429 response.
type ServerError struct {
	StatusCode int
	Method     string
	URL        string
	Body       []byte
	RetryAfter time.Duration
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("resilient: HTTP %d on %s %s", e.StatusCode, e.Method, e.URL)
}

// ClientError carries a 4xx response other than 429.
type ClientError struct {
	StatusCode int
	Method     string
	URL        string
	Body       []byte
}

func (e *ClientError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("resilient: HTTP %d on %s %s", e.StatusCode, e.Method, e.URL)
	}
	return fmt.Sprintf("resilient: HTTP %d on %s %s: %s", e.StatusCode, e.Method, e.URL, truncate(e.Body, 256))
}

// AuthError is a failed credential exchange. It never leaves a credential cached.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("resilient: token exchange failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("resilient: token exchange failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ExhaustedRetriesError wraps the last retryable error once the retry budget is spent.
type ExhaustedRetriesError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("resilient: gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Last }

// SchemaError reports a response body that does not match the expected shape.
type SchemaError struct {
	Type  string
	Field string
	Err   error
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("resilient: decode %s: field %q: %v", e.Type, e.Field, e.Err)
	}
	return fmt.Sprintf("resilient: decode %s: %v", e.Type, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// KindOf maps err to its ErrorKind. Wrapped errors are unwrapped; the outermost
// typed error wins, so an ExhaustedRetriesError reports KindExhausted.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var (
		exhausted *ExhaustedRetriesError
		auth      *AuthError
		schema    *SchemaError
		client    *ClientError
		server    *ServerError
		timeout   *TimeoutError
		network   *NetworkError
	)

	switch {
	case errors.As(err, &exhausted):
		return KindExhausted
	case errors.As(err, &auth):
		return KindAuth
	case errors.As(err, &schema):
		return KindSchema
	case errors.As(err, &client):
		return KindClient
	case errors.As(err, &server):
		return KindServer
	case errors.As(err, &timeout):
		return KindTimeout
	case errors.As(err, &network):
		return KindNetwork
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
