package webtool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wayscout-io/wayscout/internal/audit"
	"github.com/wayscout-io/wayscout/internal/tools"
)

// Excerpt caps: official advisory pages get a longer excerpt because the
// relevant warning text often sits deep in the page.
const (
	generalExcerptLen  = 2000
	officialExcerptLen = 4000
)

// Official-search sentinels.
const (
	SentinelNoOfficialDomains = "No official domains configured."
	SentinelNoOfficialResults = "No official results found."
)

// NewRegistry builds the research tool set backed by the given Fetcher.
// officialDomains scopes the official hazard tools.
func NewRegistry(f *Fetcher, officialDomains []string) *tools.Registry {
	r := tools.NewRegistry()
	r.Register(&WebSearch{f: f})
	r.Register(&WebScrape{f: f})
	r.Register(&OfficialSearch{f: f, domains: officialDomains})
	r.Register(&OfficialScrape{f: f})
	return r
}

// WebSearch searches the general web and returns "title - url" lines.
type WebSearch struct {
	f *Fetcher
}

func (t *WebSearch) Name() string { return audit.ToolWebSearch }
func (t *WebSearch) Description() string {
	return "Search the web and return top results as 'title - url' lines."
}
func (t *WebSearch) InputSchema() json.RawMessage { return tools.QuerySchema() }

func (t *WebSearch) Execute(ctx context.Context, params json.RawMessage) string {
	query := tools.StringArg(params, "query")
	results := t.f.searchWeb(ctx, query, 5)
	if len(results) == 0 {
		return SentinelNoResults
	}
	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = fmt.Sprintf("%s - %s", r.Title, r.URL)
	}
	return strings.Join(lines, "\n")
}

// WebScrape fetches a URL and returns a cleaned text excerpt.
type WebScrape struct {
	f *Fetcher
}

func (t *WebScrape) Name() string { return audit.ToolWebScrape }
func (t *WebScrape) Description() string {
	return "Fetch a URL and return a cleaned plain-text excerpt of the page."
}
func (t *WebScrape) InputSchema() json.RawMessage { return tools.URLSchema() }

func (t *WebScrape) Execute(ctx context.Context, params json.RawMessage) string {
	return scrape(ctx, t.f, tools.StringArg(params, "url"), generalExcerptLen)
}

// OfficialSearch searches the configured official/government domains for
// hazard advisories using site-scoped queries.
type OfficialSearch struct {
	f       *Fetcher
	domains []string
}

func (t *OfficialSearch) Name() string { return audit.ToolOfficialSearch }
func (t *OfficialSearch) Description() string {
	return "Search official and government sources for hazard advisories."
}
func (t *OfficialSearch) InputSchema() json.RawMessage { return tools.QuerySchema() }

func (t *OfficialSearch) Execute(ctx context.Context, params json.RawMessage) string {
	if len(t.domains) == 0 {
		return SentinelNoOfficialDomains
	}
	query := tools.StringArg(params, "query")
	var lines []string
	for _, domain := range t.domains {
		for _, r := range t.f.searchWeb(ctx, fmt.Sprintf("site:%s %s", domain, query), 3) {
			lines = append(lines, fmt.Sprintf("%s - %s", r.Title, r.URL))
		}
	}
	if len(lines) == 0 {
		return SentinelNoOfficialResults
	}
	return strings.Join(lines, "\n")
}

// OfficialScrape fetches an official advisory page with a longer excerpt cap.
type OfficialScrape struct {
	f *Fetcher
}

func (t *OfficialScrape) Name() string { return audit.ToolOfficialScrape }
func (t *OfficialScrape) Description() string {
	return "Scrape an official advisory page and return hazard-relevant excerpts."
}
func (t *OfficialScrape) InputSchema() json.RawMessage { return tools.URLSchema() }

func (t *OfficialScrape) Execute(ctx context.Context, params json.RawMessage) string {
	return scrape(ctx, t.f, tools.StringArg(params, "url"), officialExcerptLen)
}

func scrape(ctx context.Context, f *Fetcher, rawURL string, maxLen int) string {
	normalized := normalizeURL(rawURL)
	if normalized == "" {
		return SentinelInvalidURL
	}
	body, ok := f.Get(ctx, normalized)
	if !ok {
		return SentinelFetchFailed
	}
	return extractText(body, maxLen)
}
