package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	wayscoutotel "github.com/wayscout-io/wayscout/internal/otel"
)

var tracer = wayscoutotel.Tracer("github.com/wayscout-io/wayscout/internal/llm")

// DefaultGroqBaseURL is Groq's OpenAI-compatible endpoint.
const DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqProvider implements Provider against Groq's OpenAI-compatible API.
type GroqProvider struct {
	client *openai.Client
}

// NewGroqProvider creates a Groq provider with the given API key.
func NewGroqProvider(apiKey string) (*GroqProvider, error) {
	return NewGroqProviderWithBaseURL(apiKey, DefaultGroqBaseURL)
}

// NewGroqProviderWithBaseURL creates a Groq provider against a custom base URL
// (e.g. an httptest server in tests). baseURL includes the /v1 path.
func NewGroqProviderWithBaseURL(apiKey, baseURL string) (*GroqProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("groq: %w", ErrMissingAPIKey)
	}
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	return &GroqProvider{client: openai.NewClientWithConfig(config)}, nil
}

// Name returns the provider identifier.
func (p *GroqProvider) Name() string {
	return "groq"
}

// Generate sends a chat completion request, including tool definitions, and
// maps any tool calls in the response back into provider-neutral form.
func (p *GroqProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.generate",
		trace.WithAttributes(
			wayscoutotel.GenAISystem.String("groq"),
			wayscoutotel.GenAIRequestModel.String(req.Model),
			wayscoutotel.GenAIRequestTemperature.Float64(req.Temperature),
			wayscoutotel.GenAIRequestMaxTokens.Int(req.MaxTokens),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutLLMCall)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages[i] = m
	}

	var tools []openai.Tool
	for _, t := range req.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Tools:       tools,
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("groq api call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("groq api call: no choices returned")
	}
	choice := resp.Choices[0]

	span.SetAttributes(
		wayscoutotel.GenAIUsageInputTokens.Int(resp.Usage.PromptTokens),
		wayscoutotel.GenAIUsageOutputTokens.Int(resp.Usage.CompletionTokens),
		wayscoutotel.GenAIResponseFinishReason.String(string(choice.FinishReason)),
	)

	out := &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}
