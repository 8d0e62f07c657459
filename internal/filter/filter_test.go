package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayscout-io/wayscout/internal/event"
)

var officialDomains = []string{"weather.gov", "travel.gc.ca"}

func hazardEvent() event.Event {
	return event.Event{
		Category:       event.CategoryHazard,
		Title:          "Winter storm",
		Location:       "Toronto",
		Date:           "2026-02-03",
		Description:    "A severe winter storm warning with heavy snow is in effect.",
		Rationale:      "The storm overlaps the airport transfer.",
		Recommendation: "Leave for the airport three hours earlier than planned.",
		ProposedChange: "Move the 10:00 transfer to 07:00 on the same day.",
		Sources: []event.Source{{
			Title:   "NWS warning",
			URL:     "https://www.weather.gov/alerts/123",
			Snippet: "Winter storm warning in effect",
		}},
		Confidence: 0.9,
	}
}

func TestHazards_KeepsFullyEvidencedEvent(t *testing.T) {
	batch := &event.Batch{Events: []event.Event{hazardEvent()}}
	Hazards(batch, DefaultConfig(officialDomains, nil))
	assert.Len(t, batch.Events, 1)
}

func TestHazards_DropsWithoutSeverityCue(t *testing.T) {
	e := hazardEvent()
	e.Description = "Some snow is possible."
	e.Rationale = "It may snow."
	e.Recommendation = "Bring boots just in case it snows."
	e.Sources[0].Snippet = "Snow possible this week"
	batch := &event.Batch{Events: []event.Event{e}}

	Hazards(batch, DefaultConfig(officialDomains, nil))
	assert.Empty(t, batch.Events, "hazard without a severity cue must be dropped")
}

func TestHazards_DropsWithoutOfficialSource(t *testing.T) {
	e := hazardEvent()
	e.Sources[0].URL = "https://some-travel-blog.example/storm"
	batch := &event.Batch{Events: []event.Event{e}}

	Hazards(batch, DefaultConfig(officialDomains, nil))
	assert.Empty(t, batch.Events)
}

func TestHazards_EmptyAllowlistIsVacuous(t *testing.T) {
	e := hazardEvent()
	e.Sources[0].URL = "https://some-travel-blog.example/storm"
	batch := &event.Batch{Events: []event.Event{e}}

	Hazards(batch, DefaultConfig(nil, nil))
	assert.Len(t, batch.Events, 1, "empty allowlist satisfies the official-source condition")
}

func TestHazards_TrustedAdvisoryBypassesKeywordRules(t *testing.T) {
	e := hazardEvent()
	e.Description = "Updated guidance for travellers."
	e.Rationale = "Relevant to the trip."
	e.Recommendation = "Check the published guidance before departure."
	e.Sources = []event.Source{{
		Title:   "Advisory",
		URL:     "https://www.anzen.mofa.go.jp/info/pcinfectionspothazardinfo.html",
		Snippet: "Advisory level updated",
	}}
	batch := &event.Batch{Events: []event.Event{e}}

	Hazards(batch, DefaultConfig(officialDomains, nil))
	assert.Len(t, batch.Events, 1)
}

func TestHazards_TrustedAdvisoryStillNeedsSnippet(t *testing.T) {
	e := hazardEvent()
	e.Description = "Updated guidance."
	e.Rationale = "Relevant."
	e.Recommendation = "Check guidance."
	e.Sources = []event.Source{{URL: "https://mofa.go.jp/advisory", Snippet: ""}}
	batch := &event.Batch{Events: []event.Event{e}}

	Hazards(batch, DefaultConfig(officialDomains, nil))
	assert.Empty(t, batch.Events)
}

func TestHazards_PassesThroughOpportunities(t *testing.T) {
	opp := event.Event{Category: event.CategoryOpportunity, Title: "Festival"}
	batch := &event.Batch{Events: []event.Event{opp}}
	Hazards(batch, DefaultConfig(officialDomains, nil))
	assert.Len(t, batch.Events, 1)
}

func opportunityEvent(location string) event.Event {
	return event.Event{
		Category:       event.CategoryOpportunity,
		Title:          "Lantern festival",
		Location:       location,
		Date:           "2026-02-04",
		Recommendation: "Visit the festival after dinner near the station.",
		ProposedChange: "Add a 19:00 festival visit to the evening plan.",
		Sources:        []event.Source{{URL: "https://events.example/lanterns", Snippet: "Festival runs nightly"}},
	}
}

func TestOpportunities_LocationMatch(t *testing.T) {
	cfg := DefaultConfig(nil, []string{"Tokyo"})

	kept := &event.Batch{Events: []event.Event{opportunityEvent("Tokyo Station")}}
	Opportunities(kept, cfg)
	assert.Len(t, kept.Events, 1, "substring match on allowed term keeps the event")

	dropped := &event.Batch{Events: []event.Event{opportunityEvent("Osaka")}}
	Opportunities(dropped, cfg)
	assert.Empty(t, dropped.Events)
}

func TestOpportunities_RequiresSnippet(t *testing.T) {
	e := opportunityEvent("Tokyo")
	e.Sources = []event.Source{{URL: "https://events.example/lanterns", Snippet: ""}}
	batch := &event.Batch{Events: []event.Event{e}}

	Opportunities(batch, DefaultConfig(nil, []string{"Tokyo"}))
	assert.Empty(t, batch.Events, "empty-snippet sources never count as evidence")
}

func TestOpportunities_NoTermsMeansAnyLocation(t *testing.T) {
	batch := &event.Batch{Events: []event.Event{opportunityEvent("Anywhere")}}
	Opportunities(batch, DefaultConfig(nil, nil))
	assert.Len(t, batch.Events, 1)
}

func TestQuality_DropsShortSolutions(t *testing.T) {
	short := opportunityEvent("Tokyo")
	short.Recommendation = "Go see it" // 9 chars
	long := opportunityEvent("Tokyo")
	long.Recommendation = "Visit the festival at dusk" // 26 chars
	long.ProposedChange = "Add the festival at 19:00" // 25 chars

	batch := &event.Batch{Events: []event.Event{short, long}}
	removed := Quality(batch, DefaultConfig(nil, nil))

	assert.True(t, removed, "dropping any event must set the filtered signal")
	require.Len(t, batch.Events, 1)
	assert.Equal(t, long.Recommendation, batch.Events[0].Recommendation)
}

func TestQuality_ChecksProposedChangeToo(t *testing.T) {
	e := opportunityEvent("Tokyo")
	e.ProposedChange = "  add it  " // trims to under the minimum
	batch := &event.Batch{Events: []event.Event{e}}

	removed := Quality(batch, DefaultConfig(nil, nil))
	assert.True(t, removed)
	assert.Empty(t, batch.Events)
}

func TestQuality_NothingDropped(t *testing.T) {
	batch := &event.Batch{Events: []event.Event{opportunityEvent("Tokyo")}}
	removed := Quality(batch, DefaultConfig(nil, nil))
	assert.False(t, removed)
	assert.Len(t, batch.Events, 1)
}

func TestApply_RunsAllPassesInOrder(t *testing.T) {
	hz := hazardEvent()
	badOpp := opportunityEvent("Osaka")
	goodOpp := opportunityEvent("Tokyo Station")
	shortFix := opportunityEvent("Tokyo")
	shortFix.Recommendation = "see it"

	batch := &event.Batch{Events: []event.Event{hz, badOpp, goodOpp, shortFix}}
	removed := Apply(batch, DefaultConfig(officialDomains, []string{"Tokyo"}))

	assert.True(t, removed)
	require.Len(t, batch.Events, 2)
	assert.Equal(t, event.CategoryHazard, batch.Events[0].Category)
	assert.Equal(t, "Tokyo Station", batch.Events[1].Location)
}
