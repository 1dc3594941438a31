package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mihaisavezi/toolgate/internal/chat"
	"github.com/mihaisavezi/toolgate/internal/normalize"
	"github.com/mihaisavezi/toolgate/internal/sse"
	"github.com/mihaisavezi/toolgate/internal/toolcall"
)

// ResponsesProvider speaks the OpenAI Responses API. It has no domain of its
// own; it is selected by type or by a /responses endpoint path.
type ResponsesProvider struct {
	name     string
	endpoint string
}

func NewResponsesProvider() *ResponsesProvider {
	return &ResponsesProvider{
		name:     "responses",
		endpoint: "https://api.openai.com/v1/responses",
	}
}

func (p *ResponsesProvider) Name() string {
	return p.name
}

func (p *ResponsesProvider) GetEndpoint() string {
	return p.endpoint
}

func (p *ResponsesProvider) RequestURL(endpoint, _ string) string {
	if endpoint == "" {
		return p.endpoint
	}
	return endpoint
}

func (p *ResponsesProvider) SetHeaders(h http.Header, apiKey string) {
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
}

func (p *ResponsesProvider) IsStreaming(headers map[string][]string) bool {
	return isStreamingHeaders(headers)
}

func (p *ResponsesProvider) ReasoningFormat() normalize.ReasoningFormat {
	return normalize.ReasoningNested
}

func (p *ResponsesProvider) SupportsReasoning() bool {
	return true
}

// Chat-Completions fields the Responses API does not accept.
var responsesDroppedFields = []string{"stream_options", "n", "logprobs", "top_logprobs", "response_format"}

func (p *ResponsesProvider) BuildRequest(req *chat.Request) ([]byte, error) {
	body := make(map[string]any, len(req.Extra)+6)
	for k, v := range req.Extra {
		body[k] = v
	}
	for _, field := range responsesDroppedFields {
		delete(body, field)
	}
	for _, from := range []string{"max_tokens", "max_completion_tokens"} {
		if value, ok := body[from]; ok {
			body["max_output_tokens"] = value
			delete(body, from)
		}
	}

	body["model"] = req.Model
	body["stream"] = req.Stream
	body["store"] = false

	instructions, input := p.buildInput(req.Messages)
	body["input"] = input
	if instructions != "" {
		body["instructions"] = instructions
	}

	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, tool := range req.Tools {
			t := map[string]any{
				"type": chat.ToolTypeFunction,
				"name": tool.Function.Name,
			}
			if tool.Function.Description != "" {
				t["description"] = tool.Function.Description
			}
			if tool.Function.Parameters != nil {
				t["parameters"] = tool.Function.Parameters
			}
			if tool.Function.Strict != nil {
				t["strict"] = *tool.Function.Strict
			}
			tools = append(tools, t)
		}
		body["tools"] = tools
	} else {
		delete(body, "tool_choice")
		delete(body, "parallel_tool_calls")
	}

	if req.Reasoning != nil {
		body["reasoning"] = req.Reasoning
	} else if effort := req.Effort(); effort != "" {
		body["reasoning"] = map[string]any{"effort": effort}
	}
	if req.Verbosity != "" {
		body["text"] = map[string]any{"verbosity": req.Verbosity}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal responses request: %w", err)
	}
	return data, nil
}

// buildInput maps the conversation onto Responses input items. System turns
// become the instructions string.
func (p *ResponsesProvider) buildInput(messages []chat.Message) (string, []map[string]any) {
	var (
		instructions []string
		input        []map[string]any
	)

	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem, "developer":
			if text := contentText(msg.Content); text != "" {
				instructions = append(instructions, text)
			}
		case chat.RoleAssistant:
			if text := contentText(msg.Content); text != "" {
				input = append(input, map[string]any{
					"type":    "message",
					"role":    chat.RoleAssistant,
					"content": []map[string]any{{"type": "output_text", "text": text}},
				})
			}
			for _, call := range msg.ToolCalls {
				input = append(input, map[string]any{
					"type":      "function_call",
					"call_id":   call.ID,
					"name":      call.Function.Name,
					"arguments": call.Function.Arguments,
				})
			}
		case chat.RoleTool:
			input = append(input, map[string]any{
				"type":    "function_call_output",
				"call_id": msg.ToolCallID,
				"output":  contentText(msg.Content),
			})
		default:
			input = append(input, map[string]any{
				"type":    "message",
				"role":    chat.RoleUser,
				"content": responsesUserContent(msg.Content),
			})
		}
	}

	return strings.Join(instructions, "\n\n"), input
}

// responsesUserContent maps chat content parts onto input_text and
// input_image items. Parts already in Responses form pass through.
func responsesUserContent(content any) []any {
	parts := contentParts(content)
	if parts == nil {
		return []any{map[string]any{"type": "input_text", "text": contentText(content)}}
	}

	out := make([]any, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case "text":
			out = append(out, map[string]any{"type": "input_text", "text": part.Text})
		case "image_url":
			ref, detail := part.imageURL()
			if ref == "" {
				continue
			}
			image := map[string]any{"type": "input_image", "image_url": ref}
			if detail != "" {
				image["detail"] = detail
			}
			out = append(out, image)
		default:
			out = append(out, part.raw)
		}
	}
	return out
}

func (p *ResponsesProvider) NewStreamDecoder() StreamDecoder {
	return newResponsesDecoder()
}

// DecodeResponse handles a non-streamed response object.
func (p *ResponsesProvider) DecodeResponse(body []byte) ([]Delta, error) {
	var resp responsesObject
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal responses body: %w", err)
	}

	if resp.Error != nil {
		return []Delta{{Err: resp.Error.err()}}, nil
	}

	var (
		delta Delta
		text  strings.Builder
		calls int
	)
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type == "output_text" {
					text.WriteString(part.Text)
				}
			}
		case "function_call":
			delta.ToolCalls = append(delta.ToolCalls, toolcall.IndexedDelta(calls, item.CallID, item.Name, item.Arguments))
			calls++
		}
	}

	delta.Content = text.String()
	delta.Usage = resp.Usage.chatUsage()
	delta.FinishReason = resp.finishReason(calls > 0)
	delta.Done = true

	return []Delta{delta}, nil
}

type responsesObject struct {
	ID                string               `json:"id"`
	Status            string               `json:"status"`
	Output            []responsesItem      `json:"output"`
	Usage             *responsesUsage      `json:"usage,omitempty"`
	Error             *upstreamError       `json:"error,omitempty"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details,omitempty"`
}

func (r *responsesObject) finishReason(sawToolCalls bool) string {
	switch {
	case sawToolCalls:
		return chat.FinishReasonToolCalls
	case r.Status == "incomplete":
		return chat.FinishReasonLength
	default:
		return chat.FinishReasonStop
	}
}

type responsesItem struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	CallID    string                 `json:"call_id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Arguments string                 `json:"arguments,omitempty"`
	Content   []responsesContentPart `json:"content,omitempty"`
}

type responsesContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (u *responsesUsage) chatUsage() *chat.Usage {
	if u == nil {
		return nil
	}

	total := u.TotalTokens
	if total == 0 {
		total = u.InputTokens + u.OutputTokens
	}

	return &chat.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      total,
	}
}

type responsesEvent struct {
	Type        string           `json:"type"`
	Delta       string           `json:"delta"`
	ItemID      string           `json:"item_id"`
	OutputIndex int              `json:"output_index"`
	Item        *responsesItem   `json:"item,omitempty"`
	Response    *responsesObject `json:"response,omitempty"`
	Message     string           `json:"message,omitempty"`
	Code        string           `json:"code,omitempty"`
}

// responsesDecoder assigns tool-call indices by item id in arrival order.
type responsesDecoder struct {
	indexByItem map[string]int
	argsSeen    map[string]bool
	next        int
}

func newResponsesDecoder() *responsesDecoder {
	return &responsesDecoder{
		indexByItem: make(map[string]int),
		argsSeen:    make(map[string]bool),
	}
}

func (d *responsesDecoder) Decode(ev sse.Event) []Delta {
	var event responsesEvent
	if err := json.Unmarshal(ev.Data, &event); err != nil {
		return nil
	}

	eventType := event.Type
	if eventType == "" {
		eventType = ev.Name
	}

	switch eventType {
	case "response.output_text.delta":
		if event.Delta == "" {
			return nil
		}
		return []Delta{{Content: event.Delta}}

	case "response.output_item.added":
		if event.Item == nil || event.Item.Type != "function_call" {
			return nil
		}
		index := d.indexFor(event.Item.ID)
		if event.Item.Arguments != "" {
			d.argsSeen[event.Item.ID] = true
		}
		return []Delta{{ToolCalls: []toolcall.Delta{
			toolcall.IndexedDelta(index, event.Item.CallID, event.Item.Name, event.Item.Arguments),
		}}}

	case "response.function_call_arguments.delta":
		index, ok := d.indexByItem[event.ItemID]
		if !ok {
			return nil
		}
		d.argsSeen[event.ItemID] = true
		return []Delta{{ToolCalls: []toolcall.Delta{toolcall.IndexedDelta(index, "", "", event.Delta)}}}

	case "response.output_item.done":
		// Some servers skip argument deltas and only send the finished item.
		if event.Item == nil || event.Item.Type != "function_call" || d.argsSeen[event.Item.ID] {
			return nil
		}
		index := d.indexFor(event.Item.ID)
		d.argsSeen[event.Item.ID] = true
		return []Delta{{ToolCalls: []toolcall.Delta{
			toolcall.IndexedDelta(index, event.Item.CallID, event.Item.Name, event.Item.Arguments),
		}}}

	case "response.completed", "response.incomplete":
		delta := Delta{Done: true, FinishReason: chat.FinishReasonStop}
		if event.Response != nil {
			delta.Usage = event.Response.Usage.chatUsage()
			delta.FinishReason = event.Response.finishReason(d.next > 0)
		} else if d.next > 0 {
			delta.FinishReason = chat.FinishReasonToolCalls
		}
		return []Delta{delta}

	case "response.failed":
		if event.Response != nil && event.Response.Error != nil {
			return []Delta{{Err: event.Response.Error.err()}}
		}
		return []Delta{{Err: errors.New("response failed")}}

	case "error":
		e := upstreamError{Message: event.Message, Type: event.Code}
		return []Delta{{Err: e.err()}}
	}

	return nil
}

func (d *responsesDecoder) indexFor(itemID string) int {
	if index, ok := d.indexByItem[itemID]; ok {
		return index
	}

	index := d.next
	d.next++
	d.indexByItem[itemID] = index

	return index
}
