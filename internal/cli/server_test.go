package cli

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resilient "github.com/egorkaBurkenya/resilient-api"
)

type fakeSource struct {
	results []resilient.PollResult[Observation]
	skipped uint64
}

func (f *fakeSource) History() []resilient.PollResult[Observation] { return f.results }

func (f *fakeSource) Latest() (resilient.PollResult[Observation], bool) {
	if len(f.results) == 0 {
		return resilient.PollResult[Observation]{}, false
	}
	return f.results[len(f.results)-1], true
}

func (f *fakeSource) Skipped() uint64 { return f.skipped }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusRouter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{skipped: 2}

	client := resilient.New(resilient.WithRateLimit(3))
	defer client.Close()

	h := newStatusRouter(src, client)

	rec := get(t, h, "/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	src.results = []resilient.PollResult[Observation]{
		{Seq: 1, Value: Observation{Status: 200, Bytes: 10, Summary: "ok"}, FetchedAt: now},
		{Seq: 2, Err: errors.New("resilient: HTTP 503"), Kind: resilient.KindExhausted, OccurredAt: now.Add(time.Minute)},
	}

	rec = get(t, h, "/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var views []resultView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.True(t, views[0].OK)
	require.NotNil(t, views[0].Value)
	assert.Equal(t, "ok", views[0].Value.Summary)
	assert.False(t, views[1].OK)
	assert.Equal(t, "exhausted_retries", views[1].Kind)
	assert.Equal(t, now.Add(time.Minute), views[1].Time)

	rec = get(t, h, "/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest resultView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, uint64(2), latest.Seq)

	rec = get(t, h, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2.0, stats["skipped_ticks"])
	assert.Equal(t, 3.0, stats["calls_per_second"])
	assert.Contains(t, stats, "total_requests")

	rec = get(t, h, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
