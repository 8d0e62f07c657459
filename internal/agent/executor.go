// Package agent drives the event-detection agent: the Executor runs the
// tool-calling loop against an LLM provider, and the Detector wraps it in
// retry rounds that verify tool usage, evidence grounding, and output shape
// before a batch is accepted.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wayscout-io/wayscout/internal/audit"
	"github.com/wayscout-io/wayscout/internal/event"
	"github.com/wayscout-io/wayscout/internal/llm"
	wayscoutotel "github.com/wayscout-io/wayscout/internal/otel"
	"github.com/wayscout-io/wayscout/internal/tools"
)

var tracer = wayscoutotel.Tracer("github.com/wayscout-io/wayscout/internal/agent")

const systemPrompt = "You are an AI Event Detection Agent. Use the tools to gather " +
	"fresh evidence. You MUST call web_search at least once and " +
	"web_scrape for every URL you reference in sources. " +
	"For hazards, use official_hazard_search and " +
	"official_hazard_scrape for authoritative sources. " +
	"Only suggest events that match the itinerary dates/locations " +
	"and the user's preferences. Ensure hazards are time-sensitive " +
	"and opportunities are temporally relevant. " +
	"Return JSON only following the provided schema."

const humanPromptTemplate = "User preferences:\n%s\n\n" +
	"Itinerary rows:\n%s\n\n" +
	"Itinerary context:\n%s\n\n" +
	"Priority web queries (use as guidance):\n%s\n\n" +
	"Memory summary:\n%s\n\n" +
	"Blocked events (recently rejected):\n%s\n\n" +
	"For each event, include itinerary_day, itinerary_row_id, " +
	"change_type, and any new_time/new_location if applicable.\n\n" +
	"Event dates MUST be ISO format YYYY-MM-DD.\n\n" +
	"%s"

// DefaultMaxToolRounds bounds the tool-calling loop of one invocation.
const DefaultMaxToolRounds = 12

// Input is the variable part of one invocation prompt. The Detector rebuilds
// it per attempt; corrective guidance lands in Queries.
type Input struct {
	Preferences        string
	Itinerary          string
	Context            string
	Queries            string
	Memory             string
	Blocked            string
	FormatInstructions string
}

// Invocation is the observable result of one agent run: the final text
// output (or a pre-parsed batch, when the invoker produces one directly) and
// the ordered trace of tool calls it made along the way.
type Invocation struct {
	Output string
	Batch  *event.Batch
	Steps  []audit.Step
}

// Invoker runs the agent once. Implementations must record every tool call
// in Steps in actual call order; the Detector audits that trace.
type Invoker interface {
	Invoke(ctx context.Context, in Input) (*Invocation, error)
}

// Executor is the LLM-backed Invoker: it feeds the prompt and tool
// definitions to the provider and executes requested tools until the model
// produces a final text answer.
type Executor struct {
	provider      llm.Provider
	registry      *tools.Registry
	model         string
	temperature   float64
	maxToolRounds int
}

// NewExecutor builds an Executor over the given provider and tool registry.
func NewExecutor(provider llm.Provider, registry *tools.Registry, model string) *Executor {
	return &Executor{
		provider:      provider,
		registry:      registry,
		model:         model,
		temperature:   0.2,
		maxToolRounds: DefaultMaxToolRounds,
	}
}

// Invoke runs one agent conversation. Tool failures surface as sentinel
// observations, never as errors; only provider failures abort the run.
func (e *Executor) Invoke(ctx context.Context, in Input) (*Invocation, error) {
	ctx, span := tracer.Start(ctx, "agent.invoke")
	defer span.End()

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf(humanPromptTemplate,
			in.Preferences, in.Itinerary, in.Context, in.Queries,
			in.Memory, in.Blocked, in.FormatInstructions)},
	}
	toolDefs := e.toolDefinitions()

	inv := &Invocation{}
	for round := 0; round < e.maxToolRounds; round++ {
		resp, err := e.provider.Generate(ctx, &llm.Request{
			Model:       e.model,
			Messages:    messages,
			Temperature: e.temperature,
			Tools:       toolDefs,
		})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("agent generate: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			inv.Output = resp.Content
			return inv, nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			observation := e.execute(ctx, call)
			inv.Steps = append(inv.Steps, audit.Step{
				Tool:        call.Name,
				Input:       json.RawMessage(call.Arguments),
				Observation: observation,
			})
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    observation,
				ToolCallID: call.ID,
			})
		}
	}

	// Tool budget exhausted without a final answer; one last call without
	// tools forces the model to commit to an output.
	resp, err := e.provider.Generate(ctx, &llm.Request{
		Model:       e.model,
		Messages:    messages,
		Temperature: e.temperature,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("agent generate: %w", err)
	}
	inv.Output = resp.Content
	return inv, nil
}

func (e *Executor) execute(ctx context.Context, call llm.ToolCall) string {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		log.Warn().Ctx(ctx).Str("tool", call.Name).Msg("agent requested unknown tool")
		return "Unknown tool: " + call.Name
	}
	observation := tool.Execute(ctx, json.RawMessage(call.Arguments))
	log.Debug().Ctx(ctx).
		Str("tool", call.Name).
		Int("observation_len", len(observation)).
		Msg("tool executed")
	return observation
}

func (e *Executor) toolDefinitions() []llm.Tool {
	var defs []llm.Tool
	for _, t := range e.registry.List() {
		var params map[string]any
		if err := json.Unmarshal(t.InputSchema(), &params); err != nil {
			continue
		}
		defs = append(defs, llm.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		})
	}
	return defs
}
