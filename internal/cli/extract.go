package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	resilient "github.com/egorkaBurkenya/resilient-api"
)

const maxSummaryLen = 120

// Observation is what one watch cycle saw.
type Observation struct {
	Status  int    `json:"status"`
	Bytes   int    `json:"bytes"`
	Summary string `json:"summary"`
	Cached  bool   `json:"cached,omitempty"`
}

// newFetcher returns a FetchFunc that GETs target through client. With a CSS
// selector the summary is the text of the matching elements; otherwise it is
// the compacted body.
func newFetcher(client *resilient.Client, target string, query map[string]string, selector string) resilient.FetchFunc[Observation] {
	return func(ctx context.Context) (Observation, error) {
		resp, err := client.Get(ctx, target, query)
		if err != nil {
			return Observation{}, err
		}

		obs := Observation{Status: resp.StatusCode, Bytes: len(resp.Body), Cached: resp.FromCache}
		if selector == "" {
			obs.Summary = summarize(resp.Body)
			return obs, nil
		}

		text, err := selectText(resp.Body, selector)
		if err != nil {
			return Observation{}, err
		}
		obs.Summary = text
		return obs, nil
	}
}

// selectText returns the trimmed text of every element matching selector,
// joined with " | ".
func selectText(body []byte, selector string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", &resilient.SchemaError{Type: "html", Err: err}
	}

	var parts []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return "", &resilient.SchemaError{Type: "html", Field: selector, Err: errors.New("no matching element")}
	}
	return clip(strings.Join(parts, " | ")), nil
}

func summarize(body []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err == nil {
		return clip(buf.String())
	}
	return clip(strings.Join(strings.Fields(string(body)), " "))
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= maxSummaryLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxSummaryLen-3]) + "..."
}
