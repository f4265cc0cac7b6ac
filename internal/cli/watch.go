package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	resilient "github.com/egorkaBurkenya/resilient-api"
)

type watchOptions struct {
	interval     time.Duration
	count        int
	selector     string
	listen       string
	query        map[string]string
	fetchTimeout time.Duration
	noTable      bool
}

func newWatchCommand(a *app) *cobra.Command {
	o := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch <url|path>",
		Short: "Poll an endpoint on an interval and report each result",
		Long: `watch polls an endpoint through the resilient client until interrupted or
--count results have been seen. A failed poll is logged and recorded; it never
stops the loop. On exit the recorded history is printed as a table.`,
		Example: `  apiwatch watch http://api.open-notify.org/iss-now.json --interval 5s --count 10
  apiwatch watch https://news.ycombinator.com --selector ".titleline > a" --interval 1m
  apiwatch watch /status --listen 127.0.0.1:8090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd, o, args[0])
		},
	}

	cmd.Flags().DurationVarP(&o.interval, "interval", "i", 0, "poll interval (default poll_interval from config)")
	cmd.Flags().IntVarP(&o.count, "count", "n", 0, "stop after this many results (0 = until interrupted)")
	cmd.Flags().StringVarP(&o.selector, "selector", "s", "", "CSS selector to extract from an HTML response")
	cmd.Flags().StringVar(&o.listen, "listen", "", "serve /latest, /history and /stats on this address")
	cmd.Flags().StringToStringVarP(&o.query, "query", "q", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().DurationVar(&o.fetchTimeout, "fetch-timeout", 0, "bound on one poll including retries (0 = none)")
	cmd.Flags().BoolVar(&o.noTable, "no-table", false, "do not print the history table on exit")
	return cmd
}

func (a *app) runWatch(cmd *cobra.Command, o *watchOptions, target string) error {
	s := a.settings
	interval := o.interval
	if interval <= 0 {
		interval = s.PollInterval
	}

	client := s.newClient(a.log)
	defer client.Close()

	log := a.log.With().Str("component", "watch").Str("target", target).Logger()

	var (
		poller    *resilient.Poller[Observation]
		delivered atomic.Int64
		failures  atomic.Int64
	)

	// onResult may fire before StartPoller returns.
	started := make(chan struct{})
	onResult := func(r resilient.PollResult[Observation]) {
		<-started
		if r.OK() {
			log.Info().
				Uint64("seq", r.Seq).
				Int("status", r.Value.Status).
				Int("bytes", r.Value.Bytes).
				Bool("cached", r.Value.Cached).
				Str("summary", r.Value.Summary).
				Msg("poll ok")
		} else {
			failures.Add(1)
			log.Warn().
				Uint64("seq", r.Seq).
				Str("kind", r.Kind.String()).
				Err(r.Err).
				Msg("poll failed")
		}
		if n := delivered.Add(1); o.count > 0 && n >= int64(o.count) {
			poller.Stop()
		}
	}

	poller = resilient.StartPoller(cmd.Context(),
		newFetcher(client, target, o.query, o.selector),
		interval,
		onResult,
		resilient.WithHistoryDepth(s.PollHistoryDepth),
		resilient.WithPollLogger(log),
		resilient.WithFetchTimeout(o.fetchTimeout),
	)
	close(started)

	log.Info().Dur("interval", interval).Msg("watching")

	var srv *http.Server
	if o.listen != "" {
		ln, err := net.Listen("tcp", o.listen)
		if err != nil {
			poller.Stop()
			poller.Wait()
			return fmt.Errorf("listen %s: %w", o.listen, err)
		}
		srv = &http.Server{
			Handler:           newStatusRouter(poller, client),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status server failed")
			}
		}()
		log.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
	}

	poller.Wait()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("status server shutdown")
		}
	}

	hist := poller.History()
	if !o.noTable {
		renderHistory(cmd.OutOrStdout(), hist, client.Stats(), poller.Skipped())
	}

	if n := delivered.Load(); n > 0 && failures.Load() == n {
		return fmt.Errorf("all %d polls of %s failed", n, target)
	}
	return nil
}
