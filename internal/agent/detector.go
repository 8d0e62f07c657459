package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wayscout-io/wayscout/internal/audit"
	"github.com/wayscout-io/wayscout/internal/event"
	"github.com/wayscout-io/wayscout/internal/filter"
	"github.com/wayscout-io/wayscout/internal/itinerary"
)

// Detector defaults.
const (
	DefaultAttempts  = 2
	DefaultMaxEvents = 8
)

// DetectRequest carries everything one detection run needs.
type DetectRequest struct {
	Preferences        string
	Itinerary          string
	Context            itinerary.Context
	Queries            []string
	MemoryEvents       []map[string]any
	MemorySummary      string
	BlockedIDs         []string
	RequiredCategories []string
	OfficialDomains    []string
	MaxEvents          int
}

// Detector runs the agent for up to Attempts rounds, auditing each round's
// tool trace and output against the acceptance criteria and feeding
// corrective guidance back on rejection. Detect never fails: an unusable
// round degrades to an empty batch and the final reconciliation pass keeps
// whatever survives the filters.
type Detector struct {
	invoker  Invoker
	attempts int
}

// NewDetector wraps an Invoker with the default number of attempts.
func NewDetector(invoker Invoker) *Detector {
	return &Detector{invoker: invoker, attempts: DefaultAttempts}
}

// NewDetectorWithAttempts wraps an Invoker with an explicit attempt budget.
func NewDetectorWithAttempts(invoker Invoker, attempts int) *Detector {
	if attempts < 1 {
		attempts = 1
	}
	return &Detector{invoker: invoker, attempts: attempts}
}

// Detect runs the detection rounds and returns the accepted batch. The
// returned batch is always non-nil and already filtered, deduplicated by
// deterministic id, restricted to the itinerary's date span, purged of
// blocked ids, and truncated to MaxEvents.
func (d *Detector) Detect(ctx context.Context, req DetectRequest) *event.Batch {
	ctx, span := tracer.Start(ctx, "agent.detect")
	defer span.End()

	maxEvents := req.MaxEvents
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	cfg := filter.DefaultConfig(req.OfficialDomains, req.Context.AllowedLocationTerms())

	contextBlob, _ := json.Marshal(req.Context)
	memoryBlob, _ := json.Marshal(req.MemoryEvents)
	blocked, _ := json.Marshal(req.BlockedIDs)
	if req.BlockedIDs == nil {
		blocked = []byte("[]")
	}
	queriesBlob := strings.Join(req.Queries, "\n")

	in := Input{
		Preferences: req.Preferences,
		Itinerary:   req.Itinerary,
		Context:     string(contextBlob),
		Memory:      req.MemorySummary + "\nRaw events: " + string(memoryBlob),
		Blocked:     string(blocked),
		FormatInstructions: event.FormatInstructions() +
			"\nReturn at least one hazard and one opportunity if evidence is available.",
	}

	var last *event.Batch
	for attempt := 0; attempt < d.attempts; attempt++ {
		in.Queries = queriesBlob

		batch, usage := d.round(ctx, in, attempt)
		qualityFiltered := filter.Apply(batch, cfg)

		sourceURLs := event.SourceURLs(batch, audit.NormalizeURL)
		scraped := usage.ScrapedSet()
		var missingSources []string
		for _, u := range sourceURLs {
			if _, ok := scraped[u]; u != "" && !ok {
				missingSources = append(missingSources, u)
			}
		}

		var invalidDates bool
		for _, e := range batch.Events {
			if !event.IsISODate(e.Date) {
				invalidDates = true
			}
		}

		hasRequiredTools := len(usage.Searches) > 0 && len(usage.Scrapes) > 0
		if first := usage.FirstTool(); first != "" {
			hasRequiredTools = hasRequiredTools && first == audit.ToolWebSearch
		}
		if hasHazards(batch) && len(req.OfficialDomains) > 0 {
			hasRequiredTools = hasRequiredTools &&
				len(usage.OfficialSearches) > 0 && len(usage.OfficialScrapes) > 0
		}

		hasRequiredCategories := true
		for _, category := range req.RequiredCategories {
			found := false
			for _, e := range batch.Events {
				if e.Category == category {
					found = true
				}
			}
			hasRequiredCategories = hasRequiredCategories && found
		}

		accepted := hasRequiredTools &&
			len(missingSources) == 0 &&
			hasRequiredCategories &&
			!invalidDates &&
			!qualityFiltered

		span.AddEvent("round", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.Bool("accepted", accepted),
			attribute.Int("events", len(batch.Events)),
		))
		log.Info().Ctx(ctx).
			Int("attempt", attempt).
			Bool("accepted", accepted).
			Bool("tools_ok", hasRequiredTools).
			Int("missing_sources", len(missingSources)).
			Bool("invalid_dates", invalidDates).
			Bool("quality_filtered", qualityFiltered).
			Int("events", len(batch.Events)).
			Msg("detection round")

		last = batch
		if accepted {
			break
		}

		queriesBlob += "\nIMPORTANT: You must use web_search first, then web_scrape each source URL."
		if len(missingSources) > 0 {
			queriesBlob += "\nScrape these URLs: " + strings.Join(missingSources, ", ")
		}
		if invalidDates {
			queriesBlob += "\nUse ISO dates only (YYYY-MM-DD) for event.date."
		}
		if qualityFiltered {
			queriesBlob += "\nProvide concrete recommendation and proposed_change with at least 20 characters."
		}
	}

	if last == nil {
		last = &event.Batch{}
	}

	// Reconciliation: re-running id assignment and the filters is
	// idempotent on an accepted batch and salvages a best-effort result
	// from a rejected final round.
	event.AssignIDs(last)
	filter.Apply(last, cfg)
	restrictToDateSpan(last, req.Context)
	removeBlocked(last, req.BlockedIDs)
	if len(last.Events) > maxEvents {
		last.Events = last.Events[:maxEvents]
	}
	return last
}

// round invokes the agent once and parses its output. Any failure, invoke or
// parse, degrades to an empty batch so the retry loop can push guidance.
func (d *Detector) round(ctx context.Context, in Input, attempt int) (*event.Batch, audit.Usage) {
	inv, err := d.invoker.Invoke(ctx, in)
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Int("attempt", attempt).Msg("agent invocation failed")
		return &event.Batch{}, audit.Usage{}
	}

	usage := audit.Collect(inv.Steps)

	batch := inv.Batch
	if batch == nil {
		batch, err = event.ParseBatch(inv.Output)
		if err != nil {
			log.Warn().Ctx(ctx).Err(err).Int("attempt", attempt).Msg("agent output unparseable")
			return &event.Batch{}, usage
		}
	}
	event.AssignIDs(batch)
	return batch, usage
}

func hasHazards(b *event.Batch) bool {
	for _, e := range b.Events {
		if e.Category == event.CategoryHazard {
			return true
		}
	}
	return false
}

func restrictToDateSpan(b *event.Batch, ctx itinerary.Context) {
	min, okMin := event.ParseDate(ctx.DateMin)
	max, okMax := event.ParseDate(ctx.DateMax)
	if !okMin || !okMax {
		return
	}
	filtered := b.Events[:0]
	for _, e := range b.Events {
		d, ok := event.ParseDate(e.Date)
		if ok && !d.Before(min) && !d.After(max) {
			filtered = append(filtered, e)
		}
	}
	b.Events = filtered
}

func removeBlocked(b *event.Batch, blockedIDs []string) {
	if len(blockedIDs) == 0 {
		return
	}
	blocked := make(map[string]struct{}, len(blockedIDs))
	for _, id := range blockedIDs {
		blocked[id] = struct{}{}
	}
	filtered := b.Events[:0]
	for _, e := range b.Events {
		if _, ok := blocked[e.ID]; !ok {
			filtered = append(filtered, e)
		}
	}
	b.Events = filtered
}
