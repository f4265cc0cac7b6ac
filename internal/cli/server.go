package cli

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	resilient "github.com/egorkaBurkenya/resilient-api"
)

// pollSource is the read side of a running watch.
type pollSource interface {
	History() []resilient.PollResult[Observation]
	Latest() (resilient.PollResult[Observation], bool)
	Skipped() uint64
}

type resultView struct {
	Seq   uint64       `json:"seq"`
	OK    bool         `json:"ok"`
	Time  time.Time    `json:"time"`
	Value *Observation `json:"value,omitempty"`
	Error string       `json:"error,omitempty"`
	Kind  string       `json:"kind,omitempty"`
}

func toView(r resilient.PollResult[Observation]) resultView {
	v := resultView{Seq: r.Seq, OK: r.OK(), Time: r.Time()}
	if r.OK() {
		obs := r.Value
		v.Value = &obs
		return v
	}
	v.Error = r.Err.Error()
	v.Kind = r.Kind.String()
	return v
}

type statsView struct {
	resilient.Stats
	SkippedTicks uint64  `json:"skipped_ticks"`
	RateLimit    float64 `json:"calls_per_second"`
}

// newStatusRouter exposes the watch state as JSON:
// GET /latest, GET /history and GET /stats.
func newStatusRouter(src pollSource, client *resilient.Client) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/latest", func(w http.ResponseWriter, _ *http.Request) {
		latest, ok := src.Latest()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no results yet"})
			return
		}
		writeJSON(w, http.StatusOK, toView(latest))
	})

	r.Get("/history", func(w http.ResponseWriter, _ *http.Request) {
		hist := src.History()
		views := make([]resultView, 0, len(hist))
		for _, h := range hist {
			views = append(views, toView(h))
		}
		writeJSON(w, http.StatusOK, views)
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statsView{
			Stats:        client.Stats(),
			SkippedTicks: src.Skipped(),
			RateLimit:    client.Limiter().Rate(),
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
