// Package webtool implements the research tools the agent uses to gather
// evidence: general web search and scrape plus official-source variants for
// hazard advisories. Network failures never surface as errors; tools return
// sentinel text and the filters treat it as "no evidence".
package webtool

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/wayscout-io/wayscout/internal/audit"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/121.0 Safari/537.36"

// Fetch failure sentinels. Callers match on these instead of errors.
const (
	SentinelInvalidURL  = "Fetch failed: invalid URL"
	SentinelFetchFailed = "Fetch failed: request error or timeout"
	SentinelNoResults   = "No results found."
)

// Fetcher defaults.
const (
	DefaultTimeout   = 20 * time.Second
	DefaultRetries   = 3
	retryBaseDelay   = 500 * time.Millisecond
	maxResponseBytes = 2 << 20 // 2 MiB per page is plenty for text extraction
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Fetcher is the shared HTTP plumbing for all research tools: bounded retry
// with exponential backoff, a politeness rate limit on outbound requests, and
// an optional cached-response store for repeated scrapes within one session.
type Fetcher struct {
	client    *http.Client
	retries   int
	limiter   *rate.Limiter
	cache     *Cache
	searchURL string
	// sleep is swapped in tests to avoid real backoff delays.
	sleep func(time.Duration)
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithRetries sets the retry budget (attempts = retries + 1).
func WithRetries(n int) FetcherOption {
	return func(f *Fetcher) { f.retries = n }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.client.Timeout = d }
}

// WithCache attaches a cached-response store for GET requests.
func WithCache(c *Cache) FetcherOption {
	return func(f *Fetcher) { f.cache = c }
}

// WithSearchEndpoint overrides the search endpoint (tests).
func WithSearchEndpoint(url string) FetcherOption {
	return func(f *Fetcher) { f.searchURL = url }
}

// NewFetcher creates a Fetcher with default timeout, retries, and a
// politeness limit of two requests per second.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: DefaultTimeout},
		retries:   DefaultRetries,
		limiter:   rate.NewLimiter(rate.Limit(2), 2),
		searchURL: searchEndpoint,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get fetches a URL, consulting the cache first. Returns the body and true on
// success; ("", false) once the retry budget is exhausted.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (string, bool) {
	if f.cache != nil {
		if body, ok := f.cache.Get(ctx, rawURL); ok {
			return body, true
		}
	}
	body, ok := f.do(ctx, http.MethodGet, rawURL, nil)
	if ok && f.cache != nil {
		f.cache.Put(ctx, rawURL, body)
	}
	return body, ok
}

// PostForm submits a form, with the same retry semantics as Get. Responses
// are never cached.
func (f *Fetcher) PostForm(ctx context.Context, rawURL string, data url.Values) (string, bool) {
	return f.do(ctx, http.MethodPost, rawURL, data)
}

func (f *Fetcher) do(ctx context.Context, method, rawURL string, form url.Values) (string, bool) {
	for attempt := 0; attempt <= f.retries; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", false
		}

		body, err := f.once(ctx, method, rawURL, form)
		if err == nil {
			return body, true
		}
		if attempt == f.retries {
			log.Debug().Err(err).Str("url", rawURL).Int("attempts", attempt+1).Msg("fetch exhausted retries")
			return "", false
		}
		f.sleep(retryBaseDelay << attempt)
	}
	return "", false
}

func (f *Fetcher) once(ctx context.Context, method, rawURL string, form url.Values) (string, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return "", &httpStatusError{status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return "unexpected status " + http.StatusText(e.status)
}

// normalizeURL unwraps search-engine redirect wrappers and rejects URLs
// without a scheme. Returns "" for anything unusable.
func normalizeURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	unwrapped := audit.NormalizeURL(rawURL)
	parsed, err := url.Parse(unwrapped)
	if err != nil || parsed.Scheme == "" {
		return ""
	}
	return unwrapped
}

// cleanText collapses whitespace and caps the excerpt length.
func cleanText(text string, maxLen int) string {
	text = strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	if len(text) > maxLen {
		return text[:maxLen]
	}
	return text
}
