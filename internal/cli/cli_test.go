package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&app{v: newViper(), logOut: io.Discard})
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGetCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		w.Write([]byte(`{"city":"` + r.URL.Query().Get("q") + `"}`))
	}))
	defer srv.Close()

	out, err := run(t, "get", "/weather", "--base-url", srv.URL, "-H", "X-Test=yes", "-q", "q=London")
	require.NoError(t, err)
	assert.Equal(t, "{\"city\":\"London\"}\n", out)

	out, err = run(t, "get", srv.URL+"/weather", "-H", "X-Test=yes", "--json")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"city\": \"\"\n}\n", out)
}

func TestGetCommandPostsData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write([]byte(r.Method + " " + r.Header.Get("Content-Type") + " " + string(body)))
	}))
	defer srv.Close()

	out, err := run(t, "get", srv.URL, "-X", "post", "-d", `{"a":1}`, "--json")
	require.NoError(t, err)
	assert.Equal(t, "POST application/json {\"a\":1}\n", out)
}

func TestGetCommandClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))
	defer srv.Close()

	out, err := run(t, "get", srv.URL+"/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Equal(t, "missing\n", out)
}

func TestGetCommandRetriesFromEnv(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	t.Setenv("APIWATCH_MAX_RETRIES", "2")
	t.Setenv("APIWATCH_BACKOFF_BASE", "1ms")

	_, err := run(t, "get", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
	assert.Equal(t, int32(3), hits.Load())
}

func TestGetCommandRequiresArg(t *testing.T) {
	_, err := run(t, "get")
	require.Error(t, err)
}

func TestWatchCommand(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`<p class="pos">51.5, -0.1</p>`))
	}))
	defer srv.Close()

	out, err := run(t, "watch", srv.URL, "--interval", "10ms", "--count", "3", "--selector", "p.pos")
	require.NoError(t, err)

	assert.Contains(t, out, "51.5, -0.1")
	assert.Contains(t, out, "client")
	assert.Contains(t, strings.ToLower(out), "2/3 ok")
	assert.Equal(t, int32(3), hits.Load())
}

func TestWatchCommandAllFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	out, err := run(t, "watch", srv.URL, "--interval", "10ms", "--count", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 polls")
	assert.Contains(t, strings.ToLower(out), "0/2 ok")
}

func TestWatchCommandServesFromCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"position":"51.5,-0.1"}`))
	}))
	defer srv.Close()

	t.Setenv("APIWATCH_RESPONSE_CACHE_TTL", "1h")

	out, err := run(t, "watch", srv.URL, "--interval", "10ms", "--count", "3")
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 2, strings.Count(out, "(cached)"))
	assert.Contains(t, strings.ToLower(out), "2 cache hits")
}

func TestWatchCommandNoTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	out, err := run(t, "watch", srv.URL, "--interval", "10ms", "--count", "1", "--no-table")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestWatchCommandBadListenAddr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := run(t, "watch", srv.URL, "--interval", "1h", "--listen", "256.0.0.1:bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}
