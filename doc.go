// Package resilient is a client toolkit for consuming third-party HTTP APIs that
// are rate limited, flaky, or protected by expiring OAuth2 tokens.
//
// A Client composes the pieces explicitly for every logical call: it
// authenticates once, then for each attempt waits on a shared RateLimiter,
// dispatches the request, classifies the failure with a BackoffPolicy and sleeps
// min(base*2^attempt, cap) before trying again. WithResponseCache serves
// repeated GETs from memory until their TTL runs out.
//
// TokenCache implements the client-credentials grant. Concurrent callers that
// find the cached token stale share a single refresh.
//
// Poller runs a FetchFunc on an interval and keeps a bounded History of
// results. A failed cycle is recorded and reported, never fatal to the loop.
//
//	tokens := resilient.NewTokenCache(resilient.ClientCredentials{
//	    TokenURL:     "https://auth.example.com/oauth/token",
//	    ClientID:     id,
//	    ClientSecret: secret,
//	})
//	client := resilient.New(
//	    resilient.WithBaseURL("https://api.example.com"),
//	    resilient.WithRateLimit(5),
//	    resilient.WithRetry(3, 500*time.Millisecond),
//	    resilient.WithAuth(tokens),
//	)
//	defer client.Close()
//
//	users, err := resilient.GetJSON[[]User](ctx, client, "/users", nil)
//
// Errors are typed (*NetworkError, *TimeoutError, *ServerError, *ClientError,
// *AuthError, *ExhaustedRetriesError, *SchemaError); KindOf maps any of them to
// an ErrorKind.
package resilient
