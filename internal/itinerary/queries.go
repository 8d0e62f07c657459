package itinerary

import (
	"fmt"
	"strings"
)

func inferLanguage(preferences string) string {
	lowered := strings.ToLower(preferences)
	switch {
	case lowered == "":
		return "local"
	case strings.Contains(lowered, "japanese"):
		return "Japanese"
	case strings.Contains(lowered, "portuguese"):
		return "Portuguese"
	case strings.Contains(lowered, "spanish"):
		return "Spanish"
	case strings.Contains(lowered, "french"):
		return "French"
	}
	return "local"
}

// BuildQueries produces the seed web searches for a trip: hazard probes
// and opportunity probes per city, per-date event lookups, and transit
// hub disruption checks. Phrase queries are added only when the
// preferences mention language learning.
func BuildQueries(ctx Context, preferences string) []string {
	var queries []string

	for _, city := range ctx.Cities {
		queries = append(queries,
			fmt.Sprintf("weather forecast %s %s %s", city, ctx.DateMin, ctx.DateMax),
			fmt.Sprintf("travel advisory %s %s %s", city, ctx.DateMin, ctx.DateMax),
			fmt.Sprintf("public transport strike %s %s %s", city, ctx.DateMin, ctx.DateMax),
			fmt.Sprintf("festival events %s %s %s", city, ctx.DateMin, ctx.DateMax),
			fmt.Sprintf("museum deals %s %s %s", city, ctx.DateMin, ctx.DateMax),
			fmt.Sprintf("family-friendly events near %s %s %s", city, ctx.DateMin, ctx.DateMax),
		)
		for _, date := range ctx.Dates {
			queries = append(queries, fmt.Sprintf("events %s %s", city, date))
		}
	}

	for _, location := range ctx.Locations {
		lower := strings.ToLower(location)
		if strings.Contains(lower, "airport") {
			queries = append(queries, fmt.Sprintf("airport closure %s %s %s", location, ctx.DateMin, ctx.DateMax))
		}
		if strings.Contains(lower, "station") {
			queries = append(queries, fmt.Sprintf("train station disruption %s %s %s", location, ctx.DateMin, ctx.DateMax))
		}
	}

	if preferences != "" {
		lowered := strings.ToLower(preferences)
		language := inferLanguage(preferences)
		for _, keyword := range []string{"language", "phrase", "word", "japanese"} {
			if strings.Contains(lowered, keyword) {
				for _, city := range ctx.Cities {
					queries = append(queries,
						fmt.Sprintf("useful local phrase %s %s %s", city, ctx.DateMin, ctx.DateMax),
						fmt.Sprintf("common %s phrase to use at restaurant %s", language, city),
					)
				}
				break
			}
		}
	}

	return queries
}
