package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the model. An assistant
// message may carry ToolCalls instead of (or alongside) Content; a tool
// message carries the JSON output of one call, correlated by ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool call from the model. Arguments is the raw
// JSON text exactly as the model produced it; parsing and validation
// belong to the tool registry.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResponse is the unified response from any provider. Wire format
// conversion happens at provider boundaries (openai.go, ollama.go).
type ChatResponse struct {
	Model   string
	Message Message

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	Duration time.Duration
}

// HasToolCalls reports whether the model asked for any tool execution.
func (r *ChatResponse) HasToolCalls() bool {
	return r != nil && len(r.Message.ToolCalls) > 0
}

// ToolFunction extracts the function block from a tool definition in
// the {"type":"function","function":{...}} shape used by the registry.
// It returns nil when the definition is not a function tool.
func ToolFunction(tool map[string]any) map[string]any {
	if t, _ := tool["type"].(string); t != "function" {
		return nil
	}
	fn, _ := tool["function"].(map[string]any)
	return fn
}
