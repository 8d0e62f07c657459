package webtool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ddgResultsPage = `<html><body>
<div class="results">
  <h2><a class="result__a" href="https://www.weather.gov/alerts">NWS Alerts</a></h2>
  <h2><a class="result__a" href="https://duckduckgo.com/l/?uddg=https%3A%2F%2Ftravel.gc.ca%2Fadvisory">Travel advice</a></h2>
  <h2><a class="result__a" href="no-scheme-here">Broken</a></h2>
  <a class="other" href="https://ads.example">Ad</a>
</div>
</body></html>`

func TestParseSearchResults(t *testing.T) {
	results := parseSearchResults(ddgResultsPage, 5)
	require.Len(t, results, 2, "schemeless and non-result anchors are skipped")
	assert.Equal(t, "NWS Alerts", results[0].Title)
	assert.Equal(t, "https://www.weather.gov/alerts", results[0].URL)
	assert.Equal(t, "https://travel.gc.ca/advisory", results[1].URL, "redirect wrapper unwrapped")
}

func TestParseSearchResults_Limit(t *testing.T) {
	results := parseSearchResults(ddgResultsPage, 1)
	assert.Len(t, results, 1)
}

func queryArgs(t *testing.T, q string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"query": q})
	require.NoError(t, err)
	return raw
}

func urlArgs(t *testing.T, u string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"url": u})
	require.NoError(t, err)
	return raw
}

func TestWebSearch_ReturnsResultLines(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "weather tokyo", r.Form.Get("q"))
		w.Write([]byte(ddgResultsPage))
	}))
	defer ts.Close()

	tool := &WebSearch{f: testFetcher(WithSearchEndpoint(ts.URL))}
	got := tool.Execute(context.Background(), queryArgs(t, "weather tokyo"))
	assert.Contains(t, got, "NWS Alerts - https://www.weather.gov/alerts")
	assert.Contains(t, got, "https://travel.gc.ca/advisory")
}

func TestWebSearch_NoResultsSentinel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	tool := &WebSearch{f: testFetcher(WithRetries(0), WithSearchEndpoint(ts.URL))}
	assert.Equal(t, SentinelNoResults, tool.Execute(context.Background(), queryArgs(t, "anything")))
}

func TestOfficialSearch_SiteScopedQueries(t *testing.T) {
	var queries []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		queries = append(queries, r.Form.Get("q"))
		w.Write([]byte(ddgResultsPage))
	}))
	defer ts.Close()

	tool := &OfficialSearch{
		f:       testFetcher(WithSearchEndpoint(ts.URL)),
		domains: []string{"weather.gov", "travel.gc.ca"},
	}
	got := tool.Execute(context.Background(), queryArgs(t, "storm warning"))
	assert.Contains(t, got, "NWS Alerts")
	require.Len(t, queries, 2)
	assert.Equal(t, "site:weather.gov storm warning", queries[0])
	assert.Equal(t, "site:travel.gc.ca storm warning", queries[1])
}

func TestWebScrape_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><script>bad()</script><p>Heavy   snow\nwarning in effect</p></body></html>"))
	}))
	defer ts.Close()

	tool := &WebScrape{f: testFetcher()}
	got := tool.Execute(context.Background(), urlArgs(t, ts.URL))
	assert.Contains(t, got, "Heavy snow warning in effect")
	assert.NotContains(t, got, "bad()")
}

func TestWebScrape_InvalidURLSentinel(t *testing.T) {
	tool := &WebScrape{f: testFetcher()}
	assert.Equal(t, SentinelInvalidURL, tool.Execute(context.Background(), urlArgs(t, "not-a-url")))
}

func TestWebScrape_FetchFailureSentinel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	tool := &WebScrape{f: testFetcher(WithRetries(0))}
	assert.Equal(t, SentinelFetchFailed, tool.Execute(context.Background(), urlArgs(t, ts.URL)))
}

func TestOfficialSearch_NoDomainsSentinel(t *testing.T) {
	tool := &OfficialSearch{f: testFetcher(), domains: nil}
	assert.Equal(t, SentinelNoOfficialDomains, tool.Execute(context.Background(), queryArgs(t, "storm")))
}

func TestOfficialScrape_LongerExcerpt(t *testing.T) {
	long := make([]byte, 0, 5000)
	for i := 0; i < 500; i++ {
		long = append(long, []byte("advisory x ")...)
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>" + string(long) + "</p></body></html>"))
	}))
	defer ts.Close()

	general := &WebScrape{f: testFetcher()}
	official := &OfficialScrape{f: testFetcher()}

	g := general.Execute(context.Background(), urlArgs(t, ts.URL))
	o := official.Execute(context.Background(), urlArgs(t, ts.URL))
	assert.LessOrEqual(t, len(g), generalExcerptLen)
	assert.Greater(t, len(o), generalExcerptLen)
	assert.LessOrEqual(t, len(o), officialExcerptLen)
}

func TestNewRegistry_RegistersAllFourTools(t *testing.T) {
	r := NewRegistry(testFetcher(), []string{"weather.gov"})
	var names []string
	for _, tool := range r.List() {
		names = append(names, tool.Name())
	}
	assert.Equal(t, []string{"web_search", "web_scrape", "official_hazard_search", "official_hazard_scrape"}, names)
}
