package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	resilient "github.com/egorkaBurkenya/resilient-api"
)

type getOptions struct {
	method  string
	headers map[string]string
	query   map[string]string
	data    string
	json    bool
}

func newGetCommand(a *app) *cobra.Command {
	o := &getOptions{}

	cmd := &cobra.Command{
		Use:   "get <url|path>",
		Short: "Issue one request and print the response body",
		Example: `  apiwatch get http://api.open-notify.org/iss-now.json --json
  apiwatch get /data/2.5/weather --query q=London --base-url https://api.openweathermap.org
  apiwatch get /items --method POST --data '{"name":"x"}' --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGet(cmd, o, args[0])
		},
	}

	cmd.Flags().StringVarP(&o.method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringToStringVarP(&o.headers, "header", "H", nil, "request header as key=value (repeatable)")
	cmd.Flags().StringToStringVarP(&o.query, "query", "q", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().StringVarP(&o.data, "data", "d", "", "request body")
	cmd.Flags().BoolVar(&o.json, "json", false, "send the body as JSON and pretty-print a JSON response")
	return cmd
}

func (a *app) runGet(cmd *cobra.Command, o *getOptions, target string) error {
	client := a.settings.newClient(a.log)
	defer client.Close()

	spec := resilient.RequestSpec{
		Method: o.method,
		URL:    target,
		Header: o.headers,
		Query:  o.query,
	}
	if o.data != "" {
		spec.Body = []byte(o.data)
	}
	if o.json {
		if spec.Header == nil {
			spec.Header = map[string]string{}
		}
		spec.Header["Accept"] = "application/json"
		if o.data != "" {
			spec.Header["Content-Type"] = "application/json"
		}
	}

	resp, err := client.Request(cmd.Context(), spec)
	if resp != nil {
		a.log.Debug().
			Int("status", resp.StatusCode).
			Int("attempts", resp.Attempts).
			Int("bytes", len(resp.Body)).
			Msg("response received")
		writeBody(cmd, resp.Body, o.json)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", strings.ToUpper(o.method), target, err)
	}
	return nil
}

func writeBody(cmd *cobra.Command, body []byte, pretty bool) {
	out := cmd.OutOrStdout()
	if pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			buf.WriteByte('\n')
			_, _ = out.Write(buf.Bytes())
			return
		}
	}
	_, _ = out.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		fmt.Fprintln(out)
	}
}
