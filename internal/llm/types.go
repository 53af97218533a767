// Package llm is the chat-completion side of the agent: a provider
// neutral Client interface and adapters for Anthropic, OpenAI-compatible
// endpoints and Ollama.
package llm

import (
	"encoding/json"
	"log/slog"
)

// LevelTrace matches config.LevelTrace; providers log full payloads at
// this level.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a conversation with the model.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID and Name identify the call a tool message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
	// Reasoning carries provider reasoning blocks that must be replayed
	// verbatim on the next request (Anthropic extended thinking).
	Reasoning []Reasoning `json:"reasoning,omitempty"`
}

// Reasoning is an opaque reasoning block returned by a provider.
type Reasoning struct {
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"`
	// Redacted holds encrypted reasoning when the provider withheld it.
	Redacted string `json:"redacted,omitempty"`
}

// ToolCall is a request from the model to run a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its arguments exactly as the
// model produced them, usually a JSON object but not always.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSchema describes a tool to the model. Parameters is a JSON Schema
// object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Options are sampling settings passed through to the provider. Zero
// values mean "provider default".
type Options struct {
	Temperature *float64
	// ReasoningEffort is "low", "medium" or "high".
	ReasoningEffort string
	MaxTokens       int
}

// ChatResponse is one model round.
type ChatResponse struct {
	Model        string
	Message      Message
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// ToolResult builds the tool message answering call.
func ToolResult(call ToolCall, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Function.Name,
	}
}

// argumentsObject decodes raw tool arguments for providers whose wire
// format requires an object. Non-object arguments are wrapped under
// "content" so nothing the model said is lost on replay.
func argumentsObject(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"content": raw}
}

// encodeArguments renders structured arguments as the raw string form
// used by FunctionCall.
func encodeArguments(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
