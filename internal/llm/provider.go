// Package llm abstracts the chat-completion providers used to drive the
// research agent. Providers expose tool calling; the agent executor owns the
// invoke/execute loop.
package llm

import (
	"context"
	"errors"
	"time"
)

// TimeoutLLMCall bounds a single completion call.
const TimeoutLLMCall = 60 * time.Second

// ErrMissingAPIKey is returned when a provider is constructed without
// credentials. This is the one terminal configuration failure: commands check
// it before any agent invocation.
var ErrMissingAPIKey = errors.New("missing API key")

// Provider is the interface all LLM providers implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "groq").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request is an LLM generation request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Tools       []Tool
}

// Message is a chat message. Tool results carry the ToolCallID they answer;
// assistant messages that requested tools carry the ToolCalls they made.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// Tool is a tool definition passed to the LLM.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema for the arguments
}

// ToolCall is a request from the LLM to call a tool. Arguments is the raw
// JSON argument object as produced by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Response is an LLM generation response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
	ToolCalls    []ToolCall
}
