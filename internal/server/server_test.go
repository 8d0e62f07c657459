package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayscout-io/wayscout/internal/agent"
	"github.com/wayscout-io/wayscout/internal/audit"
	"github.com/wayscout-io/wayscout/internal/config"
	"github.com/wayscout-io/wayscout/internal/event"
	"github.com/wayscout-io/wayscout/internal/memory"
	"github.com/wayscout-io/wayscout/internal/runner"
)

type fixedInvoker struct {
	batch *event.Batch
}

func (f *fixedInvoker) Invoke(context.Context, agent.Input) (*agent.Invocation, error) {
	return &agent.Invocation{Batch: f.batch, Steps: fullSteps()}, nil
}

func fullSteps() []audit.Step {
	arg := func(key, value string) json.RawMessage {
		raw, _ := json.Marshal(map[string]string{key: value})
		return raw
	}
	return []audit.Step{
		{Tool: audit.ToolWebSearch, Input: arg("query", "weather Sapporo")},
		{Tool: audit.ToolWebScrape, Input: arg("url", "https://weather.gov/alerts/1")},
		{Tool: audit.ToolOfficialSearch, Input: arg("query", "site:weather.gov Sapporo")},
		{Tool: audit.ToolOfficialScrape, Input: arg("url", "https://weather.gov/alerts/1")},
	}
}

func sampleBatch() *event.Batch {
	hazard := event.Event{
		Category:       event.CategoryHazard,
		Title:          "Snow storm",
		Location:       "Sapporo",
		Date:           "2026-02-04",
		Description:    "Heavy snow storm warning",
		Rationale:      "Official advisory in effect",
		Recommendation: "Move the outdoor walk to an indoor museum visit.",
		ProposedChange: "Shift day 2 morning to the Sapporo museum quarter.",
		ItineraryRowID: "2",
		ChangeType:     event.ChangeMove,
		NewTime:        "14:00 - 16:00",
		Sources: []event.Source{{
			Title: "Advisory", URL: "https://weather.gov/alerts/1", Snippet: "Heavy snow warning",
		}},
		Confidence: 0.9,
	}
	opportunity := hazard
	opportunity.Category = event.CategoryOpportunity
	opportunity.Title = "Museum discount"
	opportunity.ChangeType = event.ChangeAdd
	opportunity.ItineraryRowID = ""
	return &event.Batch{Events: []event.Event{hazard, opportunity}}
}

type fixture struct {
	server *Server
	store  *memory.Store
	cfg    *config.Config
	prefs  string
	itin   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		DataDir:         t.TempDir(),
		GroqAPIKey:      "gsk_test",
		OfficialDomains: []string{"weather.gov"},
		WebRetries:      1,
		Attempts:        2,
		TTLRuns:         2,
		MaxEvents:       8,
	}
	store, err := memory.NewStore(filepath.Join(cfg.DataDir, "state.json"))
	require.NoError(t, err)

	r := runner.NewWithDetector(cfg, agent.NewDetector(&fixedInvoker{batch: sampleBatch()}))

	dir := t.TempDir()
	prefs := filepath.Join(dir, "prefs.txt")
	require.NoError(t, os.WriteFile(prefs, []byte("Loves snow festivals."), 0o644))
	itin := filepath.Join(dir, "itinerary.csv")
	require.NoError(t, os.WriteFile(itin, []byte(
		"Day,Date,Start Time,End Time,City,Location / Area\n"+
			"1,2026-02-03,10:00,12:00,Sapporo,Odori Park\n"+
			"2,2026-02-04,09:00,11:00,Sapporo,Odori Park\n"+
			"3,2026-02-05,09:00,11:00,Otaru,Canal\n"), 0o644))

	return &fixture{server: NewServer(r, store), store: store, cfg: cfg, prefs: prefs, itin: itin}
}

func (f *fixture) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) detectBody() map[string]interface{} {
	return map[string]interface{}{
		"preferences_path": f.prefs,
		"itinerary_path":   f.itin,
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestDetectEvents(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/detect-events", f.detectBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var batch event.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	require.Len(t, batch.Events, 2)
	assert.Equal(t, event.CategoryHazard, batch.Events[0].Category)

	assert.Equal(t, 1, f.store.State.RunCount)
	assert.Len(t, f.store.State.Events, 2)
	assert.Len(t, f.store.State.PendingEventIDs, 2)
	assert.Contains(t, f.store.State.History[0], "API run completed with 2 events.")
}

func TestDetectEvents_MissingKey(t *testing.T) {
	f := newFixture(t)
	f.cfg.GroqAPIKey = ""
	rec := f.request(t, http.MethodPost, "/detect-events", f.detectBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "GROQ API key is not set")
}

func TestDetectEvents_BadItineraryPath(t *testing.T) {
	f := newFixture(t)
	body := f.detectBody()
	body["itinerary_path"] = "/nonexistent.csv"
	rec := f.request(t, http.MethodPost, "/detect-events", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetectEventsWithApprovals(t *testing.T) {
	f := newFixture(t)

	// Ids are deterministic, so they can be computed ahead of the request.
	expected := sampleBatch()
	event.AssignIDs(expected)
	body := f.detectBody()
	body["approvals"] = map[string]bool{
		expected.Events[0].ID: true,
		expected.Events[1].ID: false,
	}

	rec := f.request(t, http.MethodPost, "/detect-events-with-approvals", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.True(t, f.store.State.Approvals[expected.Events[0].ID])
	assert.False(t, f.store.State.Approvals[expected.Events[1].ID])
	assert.Empty(t, f.store.State.PendingEventIDs)

	text, err := os.ReadFile(filepath.Join(f.cfg.OutputsDir(), runner.ChangesTextFile))
	require.NoError(t, err)
	assert.Contains(t, string(text), "Snow storm")

	updated, err := os.ReadFile(filepath.Join(f.cfg.OutputsDir(), runner.UpdatedItineraryFile))
	require.NoError(t, err)
	assert.Contains(t, string(updated), "14:00")
}

func TestApprovalFlow(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/detect-events", f.detectBody())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodGet, "/next-approval", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var next struct {
		Event map[string]interface{} `json:"event"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	require.NotNil(t, next.Event)
	eventID := next.Event["id"].(string)

	rec = f.request(t, http.MethodPost, "/submit-approval", approveRequest{EventID: eventID, Approved: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.store.State.Approvals[eventID])
	assert.Len(t, f.store.State.PendingEventIDs, 1)
	assert.NotContains(t, f.store.State.PendingEventIDs, eventID)

	rec = f.request(t, http.MethodGet, "/next-approval", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	require.NotNil(t, next.Event)
	assert.NotEqual(t, eventID, next.Event["id"])
}

func TestNextApproval_EmptyQueue(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/next-approval", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"event": null}`, rec.Body.String())
}

func TestSubmitApproval_RequiresEventID(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/submit-approval", approveRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRejectionBlocksSubsequentRun(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/detect-events", f.detectBody())
	require.Equal(t, http.StatusOK, rec.Code)

	rejectedID := f.store.State.PendingEventIDs[0]
	rec = f.request(t, http.MethodPost, "/submit-approval", approveRequest{EventID: rejectedID, Approved: false})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodPost, "/detect-events", f.detectBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var batch event.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	for _, e := range batch.Events {
		assert.NotEqual(t, rejectedID, e.ID)
	}
}

func TestRunScheduled(t *testing.T) {
	f := newFixture(t)
	res, err := f.server.RunScheduled(context.Background(), f.prefs, f.itin)
	require.NoError(t, err)
	require.Len(t, res.Batch.Events, 2)

	assert.Equal(t, 1, f.store.State.RunCount)
	assert.Len(t, f.store.State.PendingEventIDs, 2)
	assert.Contains(t, f.store.State.History[0], "Scheduled run completed with 2 events.")
}

func TestRunScheduled_SerializedWithApprovals(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/detect-events", f.detectBody())
	require.Equal(t, http.StatusOK, rec.Code)
	eventID := f.store.State.PendingEventIDs[0]

	// Scheduled runs and approval requests mutate the same store; both must
	// go through the server mutex.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_, err := f.server.RunScheduled(context.Background(), f.prefs, f.itin)
			assert.NoError(t, err)
		}
	}()
	for i := 0; i < 10; i++ {
		rec := f.request(t, http.MethodPost, "/submit-approval", approveRequest{EventID: eventID, Approved: i%2 == 0})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	<-done

	assert.Equal(t, 11, f.store.State.RunCount)
}

func TestState(t *testing.T) {
	f := newFixture(t)
	f.request(t, http.MethodPost, "/detect-events", f.detectBody())

	rec := f.request(t, http.MethodGet, "/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state struct {
		RunCount int                      `json:"run_count"`
		Events   []map[string]interface{} `json:"events"`
		History  []string                 `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, 1, state.RunCount)
	assert.Len(t, state.Events, 2)
	require.Len(t, state.History, 1)
}
