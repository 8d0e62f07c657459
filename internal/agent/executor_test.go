package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayscout-io/wayscout/internal/audit"
	"github.com/wayscout-io/wayscout/internal/llm"
	"github.com/wayscout-io/wayscout/internal/tools"
)

// scriptedProvider replays canned responses and records each request.
type scriptedProvider struct {
	responses []*llm.Response
	requests  []*llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.requests = append(p.requests, req)
	idx := len(p.requests) - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	return p.responses[idx], nil
}

// echoTool records its invocations and returns a fixed observation.
type echoTool struct {
	name        string
	observation string
	calls       []string
}

func (t *echoTool) Name() string                 { return t.name }
func (t *echoTool) Description() string          { return "test tool" }
func (t *echoTool) InputSchema() json.RawMessage { return tools.QuerySchema() }

func (t *echoTool) Execute(_ context.Context, params json.RawMessage) string {
	t.calls = append(t.calls, string(params))
	return t.observation
}

func testInput() Input {
	return Input{
		Preferences:        "prefs",
		Itinerary:          "rows",
		Context:            "{}",
		Queries:            "weather Sapporo",
		Memory:             "none",
		Blocked:            "[]",
		FormatInstructions: "JSON only",
	}
}

func TestExecutor_DirectAnswerWithoutTools(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Content: `{"events": []}`, FinishReason: "stop"},
	}}
	exec := NewExecutor(provider, tools.NewRegistry(), "test-model")

	inv, err := exec.Invoke(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, `{"events": []}`, inv.Output)
	assert.Empty(t, inv.Steps)

	require.Len(t, provider.requests, 1)
	req := provider.requests[0]
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "MUST call web_search at least once")
	assert.Contains(t, req.Messages[1].Content, "User preferences:\nprefs")
	assert.Contains(t, req.Messages[1].Content, "Priority web queries (use as guidance):\nweather Sapporo")
	assert.Contains(t, req.Messages[1].Content, "Event dates MUST be ISO format YYYY-MM-DD.")
}

func TestExecutor_ExecutesToolCallsAndRecordsSteps(t *testing.T) {
	search := &echoTool{name: audit.ToolWebSearch, observation: "1. Result - https://example.com"}
	scrape := &echoTool{name: audit.ToolWebScrape, observation: "page text"}
	registry := tools.NewRegistry()
	registry.Register(search)
	registry.Register(scrape)

	provider := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: audit.ToolWebSearch, Arguments: `{"query":"weather Sapporo"}`},
		}},
		{ToolCalls: []llm.ToolCall{
			{ID: "call_2", Name: audit.ToolWebScrape, Arguments: `{"url":"https://example.com"}`},
		}},
		{Content: `{"events": []}`, FinishReason: "stop"},
	}}
	exec := NewExecutor(provider, registry, "test-model")

	inv, err := exec.Invoke(context.Background(), testInput())
	require.NoError(t, err)

	require.Len(t, inv.Steps, 2)
	assert.Equal(t, audit.ToolWebSearch, inv.Steps[0].Tool)
	assert.Equal(t, "1. Result - https://example.com", inv.Steps[0].Observation)
	assert.Equal(t, audit.ToolWebScrape, inv.Steps[1].Tool)
	assert.Equal(t, []string{`{"query":"weather Sapporo"}`}, search.calls)

	usage := audit.Collect(inv.Steps)
	assert.Equal(t, []string{"weather Sapporo"}, usage.Searches)
	assert.Equal(t, []string{"https://example.com"}, usage.Scrapes)

	// The third request must carry the assistant tool-call message and the
	// tool result keyed by call id.
	third := provider.requests[2]
	require.Len(t, third.Messages, 6)
	assert.Equal(t, "assistant", third.Messages[2].Role)
	require.Len(t, third.Messages[2].ToolCalls, 1)
	assert.Equal(t, "call_1", third.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, "tool", third.Messages[3].Role)
	assert.Equal(t, "call_1", third.Messages[3].ToolCallID)
	assert.Equal(t, "1. Result - https://example.com", third.Messages[3].Content)
}

func TestExecutor_UnknownToolYieldsSentinelObservation(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "bogus", Arguments: `{}`}}},
		{Content: "done", FinishReason: "stop"},
	}}
	exec := NewExecutor(provider, tools.NewRegistry(), "test-model")

	inv, err := exec.Invoke(context.Background(), testInput())
	require.NoError(t, err)
	require.Len(t, inv.Steps, 1)
	assert.Equal(t, "Unknown tool: bogus", inv.Steps[0].Observation)
	assert.Equal(t, "done", inv.Output)
}

func TestExecutor_ToolBudgetForcesFinalAnswer(t *testing.T) {
	search := &echoTool{name: audit.ToolWebSearch, observation: "results"}
	registry := tools.NewRegistry()
	registry.Register(search)

	looping := &llm.Response{ToolCalls: []llm.ToolCall{
		{ID: "call_n", Name: audit.ToolWebSearch, Arguments: `{"query":"again"}`},
	}}
	responses := make([]*llm.Response, 0, DefaultMaxToolRounds+1)
	for i := 0; i < DefaultMaxToolRounds; i++ {
		responses = append(responses, looping)
	}
	responses = append(responses, &llm.Response{Content: "forced answer", FinishReason: "stop"})

	provider := &scriptedProvider{responses: responses}
	exec := NewExecutor(provider, registry, "test-model")

	inv, err := exec.Invoke(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, "forced answer", inv.Output)
	assert.Len(t, inv.Steps, DefaultMaxToolRounds)

	// The forcing call must omit tool definitions.
	last := provider.requests[len(provider.requests)-1]
	assert.Empty(t, last.Tools)
}

func TestExecutor_PassesToolDefinitions(t *testing.T) {
	search := &echoTool{name: audit.ToolWebSearch, observation: "results"}
	registry := tools.NewRegistry()
	registry.Register(search)

	provider := &scriptedProvider{responses: []*llm.Response{{Content: "ok"}}}
	exec := NewExecutor(provider, registry, "test-model")

	_, err := exec.Invoke(context.Background(), testInput())
	require.NoError(t, err)

	req := provider.requests[0]
	require.Len(t, req.Tools, 1)
	assert.Equal(t, audit.ToolWebSearch, req.Tools[0].Name)
	assert.Equal(t, "object", req.Tools[0].Parameters["type"])
}
