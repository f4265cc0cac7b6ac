package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	resilient "github.com/egorkaBurkenya/resilient-api"
)

// renderHistory writes poll results as a table, oldest first.
func renderHistory(w io.Writer, results []resilient.PollResult[Observation], stats resilient.Stats, skipped uint64) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Time", "Status", "Detail"})

	failed := 0
	for _, r := range results {
		ts := r.Time().Local().Format(time.TimeOnly)
		if !r.OK() {
			failed++
			t.AppendRow(table.Row{r.Seq, ts, r.Kind.String(), r.Err.Error()})
			continue
		}
		status := fmt.Sprint(r.Value.Status)
		if r.Value.Cached {
			status += " (cached)"
		}
		t.AppendRow(table.Row{r.Seq, ts, status, r.Value.Summary})
	}

	t.AppendFooter(table.Row{
		"",
		"",
		fmt.Sprintf("%d/%d ok", len(results)-failed, len(results)),
		fmt.Sprintf("%d requests, %d retries, %d rate limited, %d cache hits, %d skipped ticks",
			stats.TotalRequests, stats.Retries, stats.RateLimited, stats.CacheHits, skipped),
	})
	t.Render()
}
