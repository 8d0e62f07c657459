// Package filter holds the deterministic acceptance rules applied to every
// agent-produced event batch: hazard evidence rules, opportunity location
// rules, and a minimum-quality bar on the suggested fix. The rule sets are
// fixed configuration, not learned; they are passed in explicitly so the
// detector stays testable in isolation.
package filter

import (
	"strings"

	"github.com/wayscout-io/wayscout/internal/event"
)

// Default rule values.
const (
	// DefaultTrustedAdvisoryDomain is accepted as hazard evidence on its own
	// (with a snippet) even without an allowlist match.
	DefaultTrustedAdvisoryDomain = "mofa.go.jp"

	// DefaultMinSolutionLen is the minimum trimmed length of an event's
	// recommendation and proposed change.
	DefaultMinSolutionLen = 20
)

// DefaultHazardKeywords must appear (in event text or source snippets) for a
// hazard to count as travel-relevant.
var DefaultHazardKeywords = []string{
	"storm",
	"snow",
	"wind",
	"strike",
	"closure",
	"warning",
	"advisory",
	"security",
	"travel advisory",
	"civil unrest",
	"demonstration",
	"terrorism",
	"crime",
	"warning level",
}

// DefaultSeverityCues must accompany a hazard keyword; they separate live
// warnings from background noise.
var DefaultSeverityCues = []string{
	"severe",
	"heavy",
	"major",
	"warning",
	"alert",
	"advisory",
	"cancel",
	"high",
	"elevated",
	"level",
}

// Config is the immutable rule set for one detection run.
type Config struct {
	HazardKeywords        []string
	SeverityCues          []string
	OfficialDomains       []string // empty = official-source condition is vacuous
	TrustedAdvisoryDomain string
	AllowedLocationTerms  []string // empty = any location passes
	MinSolutionLen        int
}

// DefaultConfig returns a Config with the stock rule sets and the given
// official-domain allowlist and allowed location terms.
func DefaultConfig(officialDomains, allowedLocationTerms []string) Config {
	return Config{
		HazardKeywords:        DefaultHazardKeywords,
		SeverityCues:          DefaultSeverityCues,
		OfficialDomains:       officialDomains,
		TrustedAdvisoryDomain: DefaultTrustedAdvisoryDomain,
		AllowedLocationTerms:  allowedLocationTerms,
		MinSolutionLen:        DefaultMinSolutionLen,
	}
}

// Apply runs the three passes in order (hazards, opportunities, quality) and
// returns whether the quality pass removed anything. The returned flag feeds
// the detector's retry decision.
func Apply(b *event.Batch, cfg Config) bool {
	Hazards(b, cfg)
	Opportunities(b, cfg)
	return Quality(b, cfg)
}

// Hazards drops hazard events lacking evidence. A hazard survives when its
// text carries both a hazard keyword and a severity cue, at least one source
// has a snippet, and at least one source URL sits on the official allowlist,
// or when a trusted advisory domain vouches for it and a snippet exists.
// Non-hazard events pass through untouched.
func Hazards(b *event.Batch, cfg Config) {
	filtered := b.Events[:0]
	for _, e := range b.Events {
		if e.Category != event.CategoryHazard {
			filtered = append(filtered, e)
			continue
		}

		text := strings.ToLower(e.Description + " " + e.Rationale + " " + e.Recommendation)
		var snippets []string
		hasSnippet := false
		for _, s := range e.Sources {
			if s.Snippet != "" {
				hasSnippet = true
				snippets = append(snippets, s.Snippet)
			}
		}
		sourceText := strings.ToLower(strings.Join(snippets, " "))

		hasKeyword := containsAny(text, sourceText, cfg.HazardKeywords)
		hasSeverity := containsAny(text, sourceText, cfg.SeverityCues)

		hasOfficialSource := len(cfg.OfficialDomains) == 0
		if !hasOfficialSource {
			for _, s := range e.Sources {
				for _, domain := range cfg.OfficialDomains {
					if strings.Contains(s.URL, domain) {
						hasOfficialSource = true
					}
				}
			}
		}

		isTrustedAdvisory := false
		if cfg.TrustedAdvisoryDomain != "" {
			for _, s := range e.Sources {
				if strings.Contains(s.URL, cfg.TrustedAdvisoryDomain) {
					isTrustedAdvisory = true
				}
			}
		}

		if (hasKeyword && hasSeverity && hasSnippet && hasOfficialSource) ||
			(isTrustedAdvisory && hasSnippet) {
			filtered = append(filtered, e)
		}
	}
	b.Events = filtered
}

// Opportunities drops opportunity events without a sourced snippet or outside
// the allowed locations. Non-opportunity events pass through untouched.
func Opportunities(b *event.Batch, cfg Config) {
	filtered := b.Events[:0]
	for _, e := range b.Events {
		if e.Category != event.CategoryOpportunity {
			filtered = append(filtered, e)
			continue
		}

		hasSnippet := false
		for _, s := range e.Sources {
			if s.Snippet != "" {
				hasSnippet = true
			}
		}

		matchesLocation := true
		if len(cfg.AllowedLocationTerms) > 0 {
			matchesLocation = false
			location := strings.ToLower(e.Location)
			for _, term := range cfg.AllowedLocationTerms {
				if strings.Contains(location, strings.ToLower(term)) {
					matchesLocation = true
				}
			}
		}

		if hasSnippet && matchesLocation {
			filtered = append(filtered, e)
		}
	}
	b.Events = filtered
}

// Quality drops events whose recommendation or proposed change is too short
// to act on. Returns true when anything was dropped, which tells the detector
// the agent must be pushed for concrete fixes.
func Quality(b *event.Batch, cfg Config) bool {
	minLen := cfg.MinSolutionLen
	if minLen <= 0 {
		minLen = DefaultMinSolutionLen
	}

	removed := false
	filtered := b.Events[:0]
	for _, e := range b.Events {
		if len(strings.TrimSpace(e.Recommendation)) < minLen {
			removed = true
			continue
		}
		if len(strings.TrimSpace(e.ProposedChange)) < minLen {
			removed = true
			continue
		}
		filtered = append(filtered, e)
	}
	b.Events = filtered
	return removed
}

func containsAny(text, sourceText string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) || strings.Contains(sourceText, term) {
			return true
		}
	}
	return false
}
