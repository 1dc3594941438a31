// Package chat holds the Chat-Completions shapes shared by the normalizer,
// the provider dialects and the orchestrator.
package chat

import (
	"encoding/json"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"

	ToolTypeFunction = "function"

	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonLength    = "length"
)

// Message is one conversation turn.
type Message struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	// ReasoningDetails is an opaque provider payload replayed on follow-up rounds.
	ReasoningDetails json.RawMessage `json:"reasoning_details,omitempty"`
}

// Text returns the message content when it is a plain string.
func (m Message) Text() string {
	if s, ok := m.Content.(string); ok {
		return s
	}
	return ""
}

type ToolCall struct {
	Index    int          `json:"index"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
	Strict      *bool  `json:"strict,omitempty"`
}

// NewFunctionTool builds a function tool with an empty object schema.
func NewFunctionTool(name, description string) Tool {
	return Tool{
		Type: ToolTypeFunction,
		Function: ToolFunction{
			Name:        name,
			Description: description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

// Reasoning is the nested reasoning control. Extra carries client keys other
// than effort (summary, max_tokens, ...).
type Reasoning struct {
	Effort string
	Extra  map[string]any
}

func (r Reasoning) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+1)
	for k, v := range r.Extra {
		out[k] = v
	}
	if r.Effort != "" {
		out["effort"] = r.Effort
	}
	return json.Marshal(out)
}

// Request is the canonical upstream request in Chat-Completions shape.
type Request struct {
	Model           string
	Messages        []Message
	Tools           []Tool
	Stream          bool
	Reasoning       *Reasoning
	ReasoningEffort string
	Verbosity       string
	// Extra holds pass-through client fields (temperature, max_tokens, ...).
	Extra map[string]any
}

// Effort reports the requested reasoning effort regardless of output format.
func (r *Request) Effort() string {
	if r.ReasoningEffort != "" {
		return r.ReasoningEffort
	}
	if r.Reasoning != nil {
		return r.Reasoning.Effort
	}
	return ""
}

// WithTurns returns a shallow copy carrying the given history and tools.
func (r *Request) WithTurns(messages []Message, tools []Tool) *Request {
	cp := *r
	cp.Messages = messages
	cp.Tools = tools
	return &cp
}

func (r *Request) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+7)
	for k, v := range r.Extra {
		out[k] = v
	}

	out["model"] = r.Model
	out["messages"] = r.Messages
	out["stream"] = r.Stream
	if len(r.Tools) > 0 {
		out["tools"] = r.Tools
	} else {
		delete(out, "tool_choice")
		delete(out, "parallel_tool_calls")
	}
	if r.Reasoning != nil {
		out["reasoning"] = r.Reasoning
	}
	if r.ReasoningEffort != "" {
		out["reasoning_effort"] = r.ReasoningEffort
	}
	if r.Verbosity != "" {
		out["verbosity"] = r.Verbosity
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	return data, nil
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another round's usage.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	if other.TotalTokens > 0 {
		u.TotalTokens += other.TotalTokens
	} else {
		u.TotalTokens += other.PromptTokens + other.CompletionTokens
	}
}
