package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resilient "github.com/egorkaBurkenya/resilient-api"
)

const headlinesPage = `<html><body>
<ul>
  <li class="story"><a href="/1">  Rate limits   explained </a></li>
  <li class="story"><a href="/2">Backoff in practice</a></li>
  <li class="ad"><a href="/3">Buy now</a></li>
</ul>
</body></html>`

func TestSelectText(t *testing.T) {
	text, err := selectText([]byte(headlinesPage), "li.story a")
	require.NoError(t, err)
	assert.Equal(t, "Rate limits explained | Backoff in practice", text)
}

func TestSelectTextNoMatch(t *testing.T) {
	_, err := selectText([]byte(headlinesPage), "table td")
	var schemaErr *resilient.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "table td", schemaErr.Field)
	assert.Equal(t, resilient.KindSchema, resilient.KindOf(err))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, `{"a":1,"b":[1,2]}`, summarize([]byte("{\n  \"a\": 1,\n  \"b\": [1, 2]\n}")))
	assert.Equal(t, "plain text body", summarize([]byte("plain\n text   body")))

	long := summarize([]byte(strings.Repeat("é", 500)))
	assert.Equal(t, maxSummaryLen, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Write([]byte(headlinesPage))
		case "/json":
			w.Write([]byte(`{"q": "` + r.URL.Query().Get("q") + `"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := resilient.New(resilient.WithBaseURL(srv.URL))
	defer c.Close()

	obs, err := newFetcher(c, "/page", nil, "li.ad a")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Observation{Status: 200, Bytes: len(headlinesPage), Summary: "Buy now"}, obs)

	obs, err = newFetcher(c, "/json", map[string]string{"q": "iss"}, "")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"q":"iss"}`, obs.Summary)

	_, err = newFetcher(c, "/missing", nil, "")(context.Background())
	assert.Equal(t, resilient.KindClient, resilient.KindOf(err))
}
