// Package audit inspects the ordered action trace of one agent invocation
// and reports which research tools were actually used and with what inputs.
// The detector certifies mandated tool usage (search before scrape, official
// sources for hazards, every cited URL actually fetched) against this record
// rather than trusting the agent's own account.
package audit

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Research tool names the agent is expected to use.
const (
	ToolWebSearch      = "web_search"
	ToolWebScrape      = "web_scrape"
	ToolOfficialSearch = "official_hazard_search"
	ToolOfficialScrape = "official_hazard_scrape"
)

// Step is one recorded action from the invocation trace: the tool invoked and
// its raw input. Order matters; steps are recorded in actual call order.
type Step struct {
	Tool        string          `json:"tool"`
	Input       json.RawMessage `json:"input"`
	Observation string          `json:"observation,omitempty"`
}

// Usage is the per-invocation audit record, bucketed by tool kind.
type Usage struct {
	Searches         []string
	Scrapes          []string
	OfficialSearches []string
	OfficialScrapes  []string
	Order            []string
}

// Collect extracts the effective input of every step and buckets it by tool
// kind. Object-shaped inputs are reduced to their "query" or "url" field;
// scrape targets are URL-normalized so grounding checks compare like-for-like
// with declared source URLs.
func Collect(steps []Step) Usage {
	var u Usage
	for _, step := range steps {
		if step.Tool != "" {
			u.Order = append(u.Order, step.Tool)
		}
		input := effectiveInput(step.Input)
		switch step.Tool {
		case ToolWebSearch:
			u.Searches = append(u.Searches, input)
		case ToolWebScrape:
			u.Scrapes = append(u.Scrapes, NormalizeURL(input))
		case ToolOfficialSearch:
			u.OfficialSearches = append(u.OfficialSearches, input)
		case ToolOfficialScrape:
			u.OfficialScrapes = append(u.OfficialScrapes, NormalizeURL(input))
		}
	}
	return u
}

// ScrapedSet returns the union of general and official scrape targets.
func (u Usage) ScrapedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(u.Scrapes)+len(u.OfficialScrapes))
	for _, s := range u.Scrapes {
		set[s] = struct{}{}
	}
	for _, s := range u.OfficialScrapes {
		set[s] = struct{}{}
	}
	return set
}

// FirstTool returns the first tool name in the trace, or "" when no order was
// observable.
func (u Usage) FirstTool() string {
	if len(u.Order) == 0 {
		return ""
	}
	return u.Order[0]
}

// effectiveInput reduces a raw tool input to a single string. JSON objects
// yield their "query" or "url" field when present; JSON strings are unquoted;
// anything else is passed through as text.
func effectiveInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		if q, ok := obj["query"].(string); ok && q != "" {
			return q
		}
		if v, ok := obj["url"].(string); ok && v != "" {
			return v
		}
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// NormalizeURL unwraps DuckDuckGo redirect URLs (//duckduckgo.com/l/?uddg=...)
// to their embedded target so scraped URLs and cited source URLs compare
// equal. Any other URL is returned unchanged.
func NormalizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if strings.HasSuffix(parsed.Host, "duckduckgo.com") && strings.HasPrefix(parsed.Path, "/l/") {
		target := parsed.Query().Get("uddg")
		if unescaped, err := url.QueryUnescape(target); err == nil {
			return unescaped
		}
		return target
	}
	return raw
}
