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

const (
	ContentTypeEventStream  = "text/event-stream"
	ContentTypeJSON         = "application/json"
	TransferEncodingChunked = "chunked"
)

// IsStreamingContentType checks if the content type indicates streaming
func IsStreamingContentType(contentType string) bool {
	return strings.HasPrefix(contentType, ContentTypeEventStream) || strings.Contains(contentType, "stream")
}

// isStreamingHeaders is shared by every dialect.
func isStreamingHeaders(headers map[string][]string) bool {
	for _, ct := range headers["Content-Type"] {
		if IsStreamingContentType(ct) {
			return true
		}
	}

	return false
}

// ExtractModelFromConfig parses provider,model format
func ExtractModelFromConfig(modelConfig string) (provider, model string) {
	parts := strings.SplitN(modelConfig, ",", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}

	return "", strings.TrimSpace(modelConfig)
}

// RemoveFieldsRecursively removes specified fields from nested JSON structures
func RemoveFieldsRecursively(data any, fieldsToRemove []string) any {
	switch v := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))

		for key, value := range v {
			shouldRemove := false

			for _, field := range fieldsToRemove {
				if key == field {
					shouldRemove = true
					break
				}
			}

			if !shouldRemove {
				result[key] = RemoveFieldsRecursively(value, fieldsToRemove)
			}
		}

		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = RemoveFieldsRecursively(item, fieldsToRemove)
		}

		return result
	default:
		return v
	}
}

// upstreamError is the {"error": {...}} object most providers send.
type upstreamError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    any    `json:"code,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (e *upstreamError) err() error {
	msg := e.Message
	if msg == "" {
		msg = e.Type
	}
	if msg == "" {
		msg = "unknown upstream error"
	}
	return errors.New(msg)
}

// ChatProvider speaks the Chat-Completions dialect. openai, openrouter,
// nvidia and anthropic differ only in their options.
type ChatProvider struct {
	name      string
	endpoint  string
	format    normalize.ReasoningFormat
	reasoning bool

	// includeUsage asks for a final usage chunk via stream_options.
	includeUsage bool
	// maxCompletionTokens renames max_tokens for APIs that deprecated it.
	maxCompletionTokens bool
}

func (p *ChatProvider) Name() string {
	return p.name
}

func (p *ChatProvider) GetEndpoint() string {
	return p.endpoint
}

func (p *ChatProvider) RequestURL(endpoint, _ string) string {
	if endpoint == "" {
		return p.endpoint
	}
	return endpoint
}

func (p *ChatProvider) SetHeaders(h http.Header, apiKey string) {
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
}

func (p *ChatProvider) IsStreaming(headers map[string][]string) bool {
	return isStreamingHeaders(headers)
}

func (p *ChatProvider) ReasoningFormat() normalize.ReasoningFormat {
	return p.format
}

func (p *ChatProvider) SupportsReasoning() bool {
	return p.reasoning
}

func (p *ChatProvider) BuildRequest(req *chat.Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", p.name, err)
	}

	var request map[string]any
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, fmt.Errorf("unmarshal %s request: %w", p.name, err)
	}

	cleaned := RemoveFieldsRecursively(request, []string{"cache_control"}).(map[string]any)

	if store, hasStore := cleaned["store"]; !hasStore || store != true {
		delete(cleaned, "metadata")
	}

	if p.maxCompletionTokens {
		if maxTokens, ok := cleaned["max_tokens"]; ok {
			cleaned["max_completion_tokens"] = maxTokens
			delete(cleaned, "max_tokens")
		}
	}

	if p.includeUsage && req.Stream {
		cleaned["stream_options"] = map[string]any{"include_usage": true}
	}

	return json.Marshal(cleaned)
}

func (p *ChatProvider) NewStreamDecoder() StreamDecoder {
	return &chatDecoder{}
}

func (p *ChatProvider) DecodeResponse(body []byte) ([]Delta, error) {
	var resp chatChunk
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s response: %w", p.name, err)
	}

	if resp.Error != nil {
		return []Delta{{Err: resp.Error.err()}}, nil
	}

	delta := Delta{Usage: resp.Usage}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]

		message := choice.Message
		if message == nil {
			message = &choice.Delta
		}
		if message.Content != nil {
			delta.Content = *message.Content
		}

		for i, call := range message.ToolCalls {
			if call.Index == nil {
				index := i
				call.Index = &index
			}
			delta.ToolCalls = append(delta.ToolCalls, call)
		}

		delta.ReasoningDetails = splitDetails(message.ReasoningDetails)
		if choice.FinishReason != nil {
			delta.FinishReason = *choice.FinishReason
		}
	}

	if delta.FinishReason == "" {
		delta.FinishReason = chat.FinishReasonStop
	}

	return []Delta{delta}, nil
}

type chatChunk struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []chatChoice   `json:"choices"`
	Usage   *chat.Usage    `json:"usage,omitempty"`
	Error   *upstreamError `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Delta        chatDelta    `json:"delta"`
	Message      *chatDelta   `json:"message,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type chatDelta struct {
	Role             string           `json:"role,omitempty"`
	Content          *string          `json:"content,omitempty"`
	ToolCalls        []toolcall.Delta `json:"tool_calls,omitempty"`
	ReasoningDetails json.RawMessage  `json:"reasoning_details,omitempty"`
}

type chatDecoder struct{}

func (d *chatDecoder) Decode(ev sse.Event) []Delta {
	var chunk chatChunk
	if err := json.Unmarshal(ev.Data, &chunk); err != nil {
		return nil
	}

	if chunk.Error != nil {
		return []Delta{{Err: chunk.Error.err()}}
	}

	delta := Delta{Usage: chunk.Usage}
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		if choice.Delta.Content != nil {
			delta.Content = *choice.Delta.Content
		}
		delta.ToolCalls = choice.Delta.ToolCalls
		delta.ReasoningDetails = splitDetails(choice.Delta.ReasoningDetails)
		if choice.FinishReason != nil {
			delta.FinishReason = *choice.FinishReason
		}
	}

	return []Delta{delta}
}

// splitDetails accepts either an array of detail objects or a single object.
func splitDetails(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		return items
	}

	return []json.RawMessage{raw}
}
