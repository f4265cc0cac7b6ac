package resilient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("X-Hit", fmt.Sprint(n))
		fmt.Fprintf(w, "%s %s #%d", r.Method, r.URL.RequestURI(), n)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestResponseCacheHit(t *testing.T) {
	srv, hits := countingServer(t)

	c := New(WithBaseURL(srv.URL), WithResponseCache(time.Hour))
	defer c.Close()

	ctx := context.Background()
	first, err := c.Get(ctx, "/weather", map[string]string{"q": "London"})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 1, first.Attempts)

	second, err := c.Get(ctx, "/weather", map[string]string{"q": "London"})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Zero(t, second.Attempts)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, "1", second.Header.Get("X-Hit"))

	// A different query is a different entry.
	third, err := c.Get(ctx, "/weather", map[string]string{"q": "Paris"})
	require.NoError(t, err)
	assert.False(t, third.FromCache)

	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, uint64(1), c.Stats().CacheHits)
	assert.Equal(t, uint64(3), c.Stats().TotalRequests)
}

func TestResponseCacheReturnsCopies(t *testing.T) {
	srv, _ := countingServer(t)

	c := New(WithBaseURL(srv.URL), WithResponseCache(time.Hour))
	defer c.Close()

	first, err := c.Get(context.Background(), "/", nil)
	require.NoError(t, err)
	first.Body[0] = 'X'

	second, err := c.Get(context.Background(), "/", nil)
	require.NoError(t, err)
	assert.Equal(t, "GET / #1", string(second.Body))
}

func TestResponseCacheExpiry(t *testing.T) {
	srv, hits := countingServer(t)

	c := New(WithBaseURL(srv.URL), WithResponseCache(30*time.Millisecond))
	defer c.Close()

	ctx := context.Background()
	_, err := c.Get(ctx, "/", nil)
	require.NoError(t, err)

	resp, err := c.Get(ctx, "/", nil)
	require.NoError(t, err)
	require.True(t, resp.FromCache)

	assert.Eventually(t, func() bool {
		resp, err := c.Get(ctx, "/", nil)
		return err == nil && !resp.FromCache
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), hits.Load())
}

func TestResponseCacheBypass(t *testing.T) {
	srv, hits := countingServer(t)

	c := New(WithBaseURL(srv.URL), WithResponseCache(time.Hour))
	defer c.Close()

	ctx := context.Background()
	_, err := c.Get(ctx, "/", nil)
	require.NoError(t, err)

	fresh, err := c.Request(ctx, RequestSpec{URL: "/", NoCache: true})
	require.NoError(t, err)
	assert.False(t, fresh.FromCache)
	assert.Equal(t, "GET / #2", string(fresh.Body))

	// The fresh response replaced the cached one.
	cached, err := c.Get(ctx, "/", nil)
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	assert.Equal(t, "GET / #2", string(cached.Body))
	assert.Equal(t, int32(2), hits.Load())
}

func TestResponseCacheOnlySuccessfulGets(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithResponseCache(time.Hour))
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		resp, err := c.Post(ctx, "/items", map[string]int{"n": i})
		require.NoError(t, err)
		assert.False(t, resp.FromCache)

		_, err = c.Get(ctx, "/missing", nil)
		assert.Equal(t, KindClient, KindOf(err))
	}
	assert.Equal(t, int32(4), hits.Load())
	assert.Zero(t, c.Stats().CacheHits)
}

func TestResponseCacheSkipsAuthAndLimiter(t *testing.T) {
	srv, hits := countingServer(t)

	var refreshes atomic.Int32
	tc := NewTokenCacheFunc(func(context.Context) (string, time.Duration, error) {
		refreshes.Add(1)
		return "tok", time.Hour, nil
	})

	c := New(WithBaseURL(srv.URL), WithResponseCache(time.Hour), WithRateLimit(2), WithAuth(tc))
	defer c.Close()

	ctx := context.Background()
	_, err := c.Get(ctx, "/", nil)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 5; i++ {
		resp, err := c.Get(ctx, "/", nil)
		require.NoError(t, err)
		assert.True(t, resp.FromCache)
	}
	// At 2 calls/s five dispatches would take two seconds.
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), refreshes.Load())
}

func TestResponseCacheDisabledByDefault(t *testing.T) {
	srv, hits := countingServer(t)

	c := New(WithBaseURL(srv.URL))
	defer c.Close()

	for i := 0; i < 3; i++ {
		resp, err := c.Get(context.Background(), "/", nil)
		require.NoError(t, err)
		assert.False(t, resp.FromCache)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestResponseCacheSizeEvictsOldest(t *testing.T) {
	srv, hits := countingServer(t)

	c := New(WithBaseURL(srv.URL), WithResponseCache(time.Hour), WithResponseCacheSize(1))
	defer c.Close()

	ctx := context.Background()
	for _, path := range []string{"/a", "/b", "/a"} {
		resp, err := c.Get(ctx, path, nil)
		require.NoError(t, err)
		assert.False(t, resp.FromCache, path)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestPurgeCache(t *testing.T) {
	srv, hits := countingServer(t)

	c := New(WithBaseURL(srv.URL), WithResponseCache(time.Hour))
	defer c.Close()

	ctx := context.Background()
	_, err := c.Get(ctx, "/", nil)
	require.NoError(t, err)
	c.PurgeCache()

	resp, err := c.Get(ctx, "/", nil)
	require.NoError(t, err)
	assert.False(t, resp.FromCache)
	assert.Equal(t, int32(2), hits.Load())
}
