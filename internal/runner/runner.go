// Package runner wires one detection run end to end: load the trip
// documents, drive the detector, fold results into memory, and write the
// change reports. Both the CLI and the HTTP server sit on top of it.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wayscout-io/wayscout/internal/agent"
	"github.com/wayscout-io/wayscout/internal/config"
	"github.com/wayscout-io/wayscout/internal/event"
	"github.com/wayscout-io/wayscout/internal/itinerary"
	"github.com/wayscout-io/wayscout/internal/llm"
	"github.com/wayscout-io/wayscout/internal/memory"
	"github.com/wayscout-io/wayscout/internal/webtool"
)

// Output filenames under the outputs directory.
const (
	ChangesTextFile      = "itinerary_changes.txt"
	ChangesJSONFile      = "itinerary_changes.json"
	UpdatedItineraryFile = "itinerary_updated.csv"
)

// Runner executes detection runs against a fixed configuration.
type Runner struct {
	cfg      *config.Config
	detector *agent.Detector
}

// New builds a Runner from config: Groq provider, web tool registry, agent
// executor, detector. The sole failure is a missing API key.
func New(cfg *config.Config) (*Runner, error) {
	provider, err := llm.NewGroqProviderWithBaseURL(cfg.GroqAPIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	opts := []webtool.FetcherOption{
		webtool.WithRetries(cfg.WebRetries),
		webtool.WithTimeout(cfg.WebTimeout),
	}
	if err := os.MkdirAll(cfg.OutputsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating outputs directory: %w", err)
	}
	if cache, err := webtool.NewCache(filepath.Join(cfg.OutputsDir(), "http_cache.db")); err != nil {
		log.Warn().Err(err).Msg("fetch cache unavailable, continuing without")
	} else {
		opts = append(opts, webtool.WithCache(cache))
	}
	fetcher := webtool.NewFetcher(opts...)
	registry := webtool.NewRegistry(fetcher, cfg.OfficialDomains)

	executor := agent.NewExecutor(provider, registry, cfg.Model)
	return &Runner{
		cfg:      cfg,
		detector: agent.NewDetectorWithAttempts(executor, cfg.Attempts),
	}, nil
}

// NewWithDetector builds a Runner around an existing detector. Used by tests
// and anywhere the agent stack is already assembled.
func NewWithDetector(cfg *config.Config, d *agent.Detector) *Runner {
	return &Runner{cfg: cfg, detector: d}
}

// Result is the outcome of one detection run.
type Result struct {
	RunID string
	Run   int
	Batch *event.Batch
	Rows  []itinerary.Row
}

// Detect runs one detection: load documents, bump the run counter, invoke
// the detector, record new events and pending ids in memory. The caller
// decides approvals and saves the store.
func (r *Runner) Detect(ctx context.Context, store *memory.Store, preferencesPath, itineraryPath string, maxEvents int) (*Result, error) {
	preferences, err := itinerary.LoadPreferences(preferencesPath)
	if err != nil {
		return nil, err
	}
	rows, err := itinerary.LoadRows(itineraryPath)
	if err != nil {
		return nil, err
	}
	tripContext := itinerary.ExtractContext(rows)

	store.State.LastItineraryRows = rows
	run := store.IncrementRunCount()

	ttl := r.cfg.TTLRuns
	blocked := store.BlockedEventIDs(ttl)

	if maxEvents <= 0 {
		maxEvents = r.cfg.MaxEvents
	}
	req := agent.DetectRequest{
		Preferences:        preferences,
		Itinerary:          itinerary.FormatRows(rows),
		Context:            tripContext,
		Queries:            itinerary.BuildQueries(tripContext, preferences),
		MemoryEvents:       store.State.Events,
		MemorySummary:      store.Summary(),
		BlockedIDs:         blocked,
		RequiredCategories: []string{event.CategoryHazard, event.CategoryOpportunity},
		OfficialDomains:    r.cfg.OfficialDomains,
		MaxEvents:          maxEvents,
	}
	if len(r.cfg.AllowedLocationTerms) > 0 {
		req.Context.Locations = append(req.Context.Locations, r.cfg.AllowedLocationTerms...)
	}

	runID := uuid.NewString()
	log.Info().Ctx(ctx).Str("run_id", runID).Int("run", run).
		Int("queries", len(req.Queries)).Int("blocked", len(blocked)).
		Msg("detection run starting")

	batch := r.detector.Detect(ctx, req)

	store.AddEvents(eventMaps(batch.Events))
	pending := []string{}
	for _, e := range batch.Events {
		if _, decided := store.State.Approvals[e.ID]; !decided {
			pending = append(pending, e.ID)
		}
	}
	store.State.PendingEventIDs = pending

	return &Result{RunID: runID, Run: run, Batch: batch, Rows: rows}, nil
}

func eventMaps(events []event.Event) []map[string]any {
	maps := make([]map[string]any, 0, len(events))
	for _, e := range events {
		raw, err := json.Marshal(e)
		if err != nil {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		maps = append(maps, m)
	}
	return maps
}

// ChangeRecords partitions the remembered events with decisions into
// approved and rejected change records.
type ChangeRecords struct {
	Approved []event.Event `json:"approved"`
	Rejected []event.Event `json:"rejected"`
}

// BuildChangeRecords reads the store's approvals against its event log.
// Decisions for events no longer in the log are skipped.
func BuildChangeRecords(store *memory.Store) ChangeRecords {
	records := ChangeRecords{Approved: []event.Event{}, Rejected: []event.Event{}}
	for eventID, approved := range store.State.Approvals {
		stored := store.EventByID(eventID)
		if stored == nil {
			continue
		}
		var e event.Event
		raw, err := json.Marshal(stored)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if approved {
			records.Approved = append(records.Approved, e)
		} else {
			records.Rejected = append(records.Rejected, e)
		}
	}
	return records
}

// WriteOutputs writes the human-readable and JSON change reports.
func (r *Runner) WriteOutputs(store *memory.Store, textPath, jsonPath string) error {
	records := BuildChangeRecords(store)

	lines := []string{"ITINERARY CHANGES (APPROVED)"}
	if len(records.Approved) == 0 {
		lines = append(lines, "- None")
	}
	for _, e := range records.Approved {
		lines = append(lines, fmt.Sprintf("- [%s] %s | %s | %s | %s",
			e.ID, e.Date, e.Title, e.Rationale, e.ProposedChange))
	}
	if err := writeFile(textPath, []byte(strings.Join(lines, "\n"))); err != nil {
		return err
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding change records: %w", err)
	}
	return writeFile(jsonPath, data)
}

// ApplyApproved patches the given rows with approved changes and writes the
// updated itinerary. No approved changes, no file.
func (r *Runner) ApplyApproved(store *memory.Store, rows []itinerary.Row, outputPath string) error {
	records := BuildChangeRecords(store)
	if len(records.Approved) == 0 || len(rows) == 0 {
		return nil
	}
	updated := itinerary.ApplyChanges(rows, records.Approved)
	return itinerary.WriteRows(updated, outputPath)
}

// Config returns the runner's configuration.
func (r *Runner) Config() *config.Config {
	return r.cfg
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
