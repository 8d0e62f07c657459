// Package event defines the candidate travel events produced by the research
// agent: hazards that threaten an itinerary and opportunities worth adding to
// it. Event identity is derived, never agent-supplied, so semantically
// identical events collapse to the same id across runs.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Event categories.
const (
	CategoryHazard      = "hazard"
	CategoryOpportunity = "opportunity"
)

// Itinerary change types an event may propose.
const (
	ChangeMove    = "move"
	ChangeCancel  = "cancel"
	ChangeSwap    = "swap"
	ChangeAdd     = "add"
	ChangeReplace = "replace"
)

// Source is a single piece of supporting evidence for an event.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Event is a candidate hazard or opportunity tied to the itinerary.
type Event struct {
	ID             string   `json:"id"`
	Category       string   `json:"category"`
	Title          string   `json:"title"`
	Location       string   `json:"location"`
	Date           string   `json:"date"` // ISO YYYY-MM-DD to be considered valid
	TimeWindow     string   `json:"time_window,omitempty"`
	Description    string   `json:"description"`
	Rationale      string   `json:"rationale"`
	Recommendation string   `json:"recommendation"`
	ProposedChange string   `json:"proposed_change"`
	ItineraryDay   string   `json:"itinerary_day,omitempty"`
	ItineraryRowID string   `json:"itinerary_row_id,omitempty"`
	ChangeType     string   `json:"change_type,omitempty"`
	NewTime        string   `json:"new_time,omitempty"`
	NewLocation    string   `json:"new_location,omitempty"`
	Sources        []Source `json:"sources"`
	Confidence     float64  `json:"confidence"`
}

// Batch is the ordered collection of events from one agent invocation.
// Filter stages mutate it in place.
type Batch struct {
	Events []Event `json:"events"`
}

var (
	isoDateRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	findDateRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// AssignIDs recomputes the deterministic id of every event in the batch.
// The id is a digest over (category, date, location, title, proposed_change),
// so re-proposed events de-duplicate against memory regardless of what the
// agent echoed in the id field.
func AssignIDs(b *Batch) {
	for i := range b.Events {
		e := &b.Events[i]
		key := strings.Join([]string{
			e.Category,
			e.Date,
			e.Location,
			e.Title,
			e.ProposedChange,
		}, "|")
		digest := sha256.Sum256([]byte(key))
		e.ID = "evt_" + hex.EncodeToString(digest[:])[:12]
	}
}

// IsISODate reports whether value is syntactically an ISO YYYY-MM-DD date.
func IsISODate(value string) bool {
	return isoDateRe.MatchString(value)
}

// ParseDate extracts the first YYYY-MM-DD substring from value and parses it.
// Tolerant on purpose: itinerary cells and agent output often carry extra text
// around the date.
func ParseDate(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	m := findDateRe.FindString(value)
	if m == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", m)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SourceURLs returns every non-empty source URL in the batch, passed through
// normalize when it is non-nil. Duplicates are preserved; callers that need a
// set build one.
func SourceURLs(b *Batch, normalize func(string) string) []string {
	var urls []string
	for _, e := range b.Events {
		for _, s := range e.Sources {
			if s.URL == "" {
				continue
			}
			u := s.URL
			if normalize != nil {
				u = normalize(u)
			}
			urls = append(urls, u)
		}
	}
	return urls
}
