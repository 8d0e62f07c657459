// Package tools provides a thread-safe registry for the research tools the
// agent can invoke during a detection run. Tools return text: failures come
// back as sentinel strings ("Fetch failed: ...", "No results found."), never
// as errors, so one bad fetch degrades to "no evidence" instead of killing
// the round.
package tools

import (
	"context"
	"encoding/json"
	"sync"
)

// Tool is the interface all research tools implement.
type Tool interface {
	Name() string
	Description() string
	// InputSchema returns the JSON Schema for the tool's argument object.
	InputSchema() json.RawMessage
	// Execute runs the tool. It always returns usable text; failures are
	// sentinel strings.
	Execute(ctx context.Context, params json.RawMessage) string
}

// Registry manages registered tools. Thread-safe for concurrent access;
// List preserves registration order so prompts stay stable.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry, replacing any tool of the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, exists := r.tools[name]
	return tool, exists
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

// QuerySchema is the argument schema shared by search-style tools.
func QuerySchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query"}
		},
		"required": ["query"]
	}`)
}

// URLSchema is the argument schema shared by scrape-style tools.
func URLSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "URL to fetch"}
		},
		"required": ["url"]
	}`)
}

// StringArg extracts a named string field from a JSON argument object.
// A bare JSON string argument is accepted for any key.
func StringArg(params json.RawMessage, key string) string {
	var obj map[string]any
	if err := json.Unmarshal(params, &obj); err == nil {
		if v, ok := obj[key].(string); ok {
			return v
		}
		return ""
	}
	var s string
	if err := json.Unmarshal(params, &s); err == nil {
		return s
	}
	return ""
}
