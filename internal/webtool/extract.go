package webtool

import (
	"github.com/inbucket/html2text"
	"github.com/microcosm-cc/bluemonday"
)

var stripPolicy = bluemonday.StrictPolicy()

// extractText converts an HTML page into a plain-text excerpt of at most
// maxLen characters. html2text handles real pages; if it chokes on broken
// markup, bluemonday's strict policy strips the tags instead.
func extractText(body string, maxLen int) string {
	text, err := html2text.FromString(body, html2text.Options{TextOnly: true})
	if err != nil {
		text = stripPolicy.Sanitize(body)
	}
	return cleanText(text, maxLen)
}
