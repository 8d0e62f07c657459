package webtool

import (
	"context"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const searchEndpoint = "https://duckduckgo.com/html/"

// SearchResult is one search hit: link title and normalized target URL.
type SearchResult struct {
	Title string
	URL   string
}

// searchWeb runs a DuckDuckGo HTML search and returns up to limit results.
// Returns nil on fetch failure; the caller degrades to a sentinel.
func (f *Fetcher) searchWeb(ctx context.Context, query string, limit int) []SearchResult {
	body, ok := f.PostForm(ctx, f.searchURL, url.Values{"q": {query}})
	if !ok {
		return nil
	}
	return parseSearchResults(body, limit)
}

// parseSearchResults extracts result anchors (class "result__a") from the
// DuckDuckGo HTML response. Redirect-wrapped hrefs are unwrapped; entries
// without a usable URL are skipped.
func parseSearchResults(body string, limit int) []SearchResult {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var results []SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			href := normalizeURL(attr(n, "href"))
			title := strings.TrimSpace(textContent(n))
			if href != "" {
				results = append(results, SearchResult{Title: title, URL: href})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
