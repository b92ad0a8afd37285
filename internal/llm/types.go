// Package llm talks to an OpenAI-compatible chat completions API.
package llm

import "errors"

// ErrNoCredentials is returned when the provider has no API key configured.
var ErrNoCredentials = errors.New("reasoning provider credentials missing")

// Roles for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry in the prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool declares one callable action offered to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is an action the model requested. Arguments stay raw JSON; the
// caller extracts what it needs leniently.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatRequest is a single completion request.
type ChatRequest struct {
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
}

// ChatResponse carries either free text, a requested tool call, or both.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}
