package resilient

import (
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Outcome is the retry classification of a failed attempt.
type Outcome int

const (
	Fatal Outcome = iota
	Retryable
)

func (o Outcome) String() string {
	if o == Retryable {
		return "retryable"
	}
	return "fatal"
}

// DefaultRetryableStatus is the status set retried when no override is configured.
var DefaultRetryableStatus = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// BackoffPolicy computes retry delays and decides which failures are worth retrying.
type BackoffPolicy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Cap bounds every delay. Zero means uncapped.
	Cap time.Duration
	// MaxRetries bounds the number of retries; total attempts are MaxRetries+1.
	MaxRetries int
	// RetryableStatus lists status codes that classify as Retryable.
	// Nil means DefaultRetryableStatus.
	RetryableStatus map[int]bool
}

// NewBackoffPolicy returns a policy retrying the default status set.
func NewBackoffPolicy(base, maxDelay time.Duration, maxRetries int) BackoffPolicy {
	return BackoffPolicy{Base: base, Cap: maxDelay, MaxRetries: maxRetries}
}

// NextDelay returns min(Base * 2^attempt, Cap). attempt is zero-indexed from the
// first retry.
func (p BackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.Base <= 0 {
		return 0
	}

	var d time.Duration
	if attempt >= 62 || p.Base > time.Duration(math.MaxInt64>>uint(attempt)) {
		d = time.Duration(math.MaxInt64)
	} else {
		d = p.Base << uint(attempt)
	}

	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}

// Classify reports whether err is worth another attempt.
func (p BackoffPolicy) Classify(err error) Outcome {
	if err == nil {
		return Fatal
	}

	// Terminal wrappers stay terminal even when they wrap a retryable cause.
	var exhausted *ExhaustedRetriesError
	var auth *AuthError
	if errors.As(err, &exhausted) || errors.As(err, &auth) {
		return Fatal
	}

	var server *ServerError
	if errors.As(err, &server) {
		if p.retryableStatus(server.StatusCode) {
			return Retryable
		}
		return Fatal
	}

	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return Retryable
	}

	var network *NetworkError
	if errors.As(err, &network) {
		return Retryable
	}

	return Fatal
}

// Exhausted reports whether attempt (zero-indexed) was the last one allowed.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxRetries
}

func (p BackoffPolicy) retryableStatus(code int) bool {
	if p.RetryableStatus != nil {
		return p.RetryableStatus[code]
	}
	for _, c := range DefaultRetryableStatus {
		if c == code {
			return true
		}
	}
	return false
}

// delayFor resolves the sleep before retry number attempt, honoring a
// Retry-After hint as a floor and applying jitter. The result never exceeds Cap.
func (p BackoffPolicy) delayFor(attempt int, err error, jitter float64) time.Duration {
	d := p.NextDelay(attempt)

	var server *ServerError
	if errors.As(err, &server) && server.RetryAfter > d {
		d = server.RetryAfter
		if p.Cap > 0 && d > p.Cap {
			d = p.Cap
		}
	}

	if jitter > 0 && d > 0 {
		delta := float64(d) * jitter * (rand.Float64()*2 - 1) //nolint:gosec
		jittered := time.Duration(float64(d) + delta)
		if jittered > 0 {
			d = jittered
		}
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	return d
}
