// Package normalize maps inbound client bodies onto the canonical upstream
// request shape.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mihaisavezi/toolgate/internal/chat"
)

// ErrInvalidRequest marks client input that must be rejected before any
// upstream call is made.
var ErrInvalidRequest = errors.New("invalid request")

// Reserved control fields. They steer the gateway and are never forwarded.
const (
	FieldConversationID     = "conversation_id"
	FieldPreviousResponseID = "previous_response_id"
	FieldProviderID         = "provider_id"
	FieldDisableTools       = "disable_tools"
)

var reservedFields = []string{
	FieldConversationID,
	FieldPreviousResponseID,
	FieldProviderID,
	FieldDisableTools,
}

// Fields the normalizer rebuilds itself.
var canonicalFields = []string{
	"model",
	"messages",
	"tools",
	"stream",
	"reasoning",
	"reasoning_effort",
	"verbosity",
}

// Body is a decoded client request with every top-level value kept verbatim.
type Body map[string]json.RawMessage

// Decode parses a client body. Anything other than a JSON object is invalid.
func Decode(data []byte) (Body, error) {
	var body Body
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object: %v", ErrInvalidRequest, err)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrInvalidRequest)
	}
	return body, nil
}

// String returns a top-level string field, or "" when absent or not a string.
func (b Body) String(key string) string {
	raw, ok := b[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// Bool returns a top-level boolean field, false when absent or malformed.
func (b Body) Bool(key string) bool {
	raw, ok := b[key]
	if !ok {
		return false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	return v
}

// ReasoningEffort resolves the requested effort; reasoning_effort wins over
// reasoning.effort.
func (b Body) ReasoningEffort() string {
	if effort := b.String("reasoning_effort"); effort != "" {
		return effort
	}
	if nested := b.reasoningObject(); nested != nil {
		if effort, ok := nested["effort"].(string); ok {
			return strings.TrimSpace(effort)
		}
	}
	return ""
}

func (b Body) reasoningObject() map[string]any {
	raw, ok := b["reasoning"]
	if !ok {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

// Options carry the per-provider knobs resolved before normalization.
type Options struct {
	DefaultModel    string
	ReasoningFormat ReasoningFormat
	// ReasoningControls is false for providers that reject reasoning and
	// verbosity parameters.
	ReasoningControls bool
}

// Reserved holds the stripped control fields.
type Reserved struct {
	ConversationID     string
	PreviousResponseID string
	ProviderID         string
	DisableTools       bool
}

// Result is the normalized request plus the client-side controls.
type Result struct {
	Request  *chat.Request
	Reserved Reserved
	// Stream is the client's requested response mode.
	Stream bool
}

// Normalize converts a decoded client body into the canonical request.
func Normalize(body Body, opts Options) (*Result, error) {
	messages, err := normalizeMessages(body["messages"])
	if err != nil {
		return nil, err
	}

	tools, err := normalizeTools(body["tools"])
	if err != nil {
		return nil, err
	}

	req := &chat.Request{
		Model:    body.String("model"),
		Messages: messages,
		Tools:    tools,
		Stream:   true,
		Extra:    make(map[string]any),
	}
	if req.Model == "" {
		req.Model = opts.DefaultModel
	}

	applyReasoning(req, body, opts)

	for key, value := range body {
		if isOneOf(key, reservedFields) || isOneOf(key, canonicalFields) {
			continue
		}
		req.Extra[key] = value
	}

	return &Result{
		Request: req,
		Reserved: Reserved{
			ConversationID:     body.String(FieldConversationID),
			PreviousResponseID: body.String(FieldPreviousResponseID),
			ProviderID:         body.String(FieldProviderID),
			DisableTools:       body.Bool(FieldDisableTools),
		},
		Stream: body.Bool("stream"),
	}, nil
}

func applyReasoning(req *chat.Request, body Body, opts Options) {
	if !opts.ReasoningControls {
		return
	}

	if verbosity := body.String("verbosity"); verbosity != "" {
		req.Verbosity = verbosity
	}

	effort := body.ReasoningEffort()

	switch opts.ReasoningFormat {
	case ReasoningNested:
		nested := body.reasoningObject()
		if effort == "" && len(nested) == 0 {
			return
		}
		delete(nested, "effort")
		req.Reasoning = &chat.Reasoning{Effort: effort, Extra: nested}
	case ReasoningFlat:
		req.ReasoningEffort = effort
	case ReasoningNone:
	}
}

func normalizeMessages(raw json.RawMessage) ([]chat.Message, error) {
	var items []map[string]json.RawMessage
	if len(raw) > 0 && !isNull(raw) {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: messages must be an array of objects", ErrInvalidRequest)
		}
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%w: requires at least one message", ErrInvalidRequest)
	}

	messages := make([]chat.Message, 0, len(items))
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("%w: message %d must be an object", ErrInvalidRequest, i)
		}

		msg, err := normalizeMessage(item)
		if err != nil {
			return nil, fmt.Errorf("%w: message %d: %v", ErrInvalidRequest, i, err)
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

func normalizeMessage(item map[string]json.RawMessage) (chat.Message, error) {
	var msg chat.Message

	if raw, ok := item["role"]; ok {
		if err := json.Unmarshal(raw, &msg.Role); err != nil {
			return msg, fmt.Errorf("role must be a string")
		}
	}
	if msg.Role == "" {
		msg.Role = chat.RoleUser
	}

	msg.Content = coerceContent(item["content"])

	if raw, ok := item["name"]; ok {
		_ = json.Unmarshal(raw, &msg.Name)
	}
	if raw, ok := item["tool_call_id"]; ok {
		_ = json.Unmarshal(raw, &msg.ToolCallID)
	}
	if raw, ok := item["tool_calls"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &msg.ToolCalls); err != nil {
			return msg, fmt.Errorf("malformed tool_calls: %v", err)
		}
		for i := range msg.ToolCalls {
			if msg.ToolCalls[i].Type == "" {
				msg.ToolCalls[i].Type = chat.ToolTypeFunction
			}
		}
	}
	if raw, ok := item["reasoning_details"]; ok && !isNull(raw) && msg.Role == chat.RoleAssistant {
		msg.ReasoningDetails = append(json.RawMessage(nil), raw...)
	}

	return msg, nil
}

// coerceContent keeps strings and multimodal arrays/objects as they are and
// turns other scalars into their string form.
func coerceContent(raw json.RawMessage) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || isNull(trimmed) {
		return nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
		return string(trimmed)
	case '[', '{':
		return json.RawMessage(trimmed)
	default:
		return string(trimmed)
	}
}

func normalizeTools(raw json.RawMessage) ([]chat.Tool, error) {
	if len(raw) == 0 || isNull(raw) {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: tools must be an array", ErrInvalidRequest)
	}

	tools := make([]chat.Tool, 0, len(items))
	for i, item := range items {
		tool, err := normalizeTool(item)
		if err != nil {
			return nil, fmt.Errorf("%w: tool %d: %v", ErrInvalidRequest, i, err)
		}
		tools = append(tools, tool)
	}

	return tools, nil
}

func normalizeTool(raw json.RawMessage) (chat.Tool, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		name = strings.TrimSpace(name)
		if name == "" {
			return chat.Tool{}, errors.New("tool name must not be empty")
		}
		return chat.NewFunctionTool(name, ""), nil
	}

	var tool chat.Tool
	if err := json.Unmarshal(raw, &tool); err != nil {
		return chat.Tool{}, fmt.Errorf("malformed tool definition: %v", err)
	}
	if tool.Function.Name != "" {
		if tool.Type == "" {
			tool.Type = chat.ToolTypeFunction
		}
		return tool, nil
	}

	// Flat definitions ({name, description, parameters|input_schema}).
	var flat struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Parameters  any    `json:"parameters"`
		InputSchema any    `json:"input_schema"`
	}
	if err := json.Unmarshal(raw, &flat); err != nil || flat.Name == "" {
		return chat.Tool{}, errors.New("tool definition has no name")
	}

	tool = chat.NewFunctionTool(flat.Name, flat.Description)
	switch {
	case flat.Parameters != nil:
		tool.Function.Parameters = flat.Parameters
	case flat.InputSchema != nil:
		tool.Function.Parameters = flat.InputSchema
	}

	return tool, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isOneOf(key string, set []string) bool {
	for _, s := range set {
		if key == s {
			return true
		}
	}
	return false
}
