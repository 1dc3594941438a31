package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/mihaisavezi/toolgate/internal/chat"
	"github.com/mihaisavezi/toolgate/internal/normalize"
	"github.com/mihaisavezi/toolgate/internal/sse"
	"github.com/mihaisavezi/toolgate/internal/toolcall"
)

// GeminiProvider speaks the native generateContent API.
type GeminiProvider struct {
	name     string
	endpoint string
}

func NewGeminiProvider() *GeminiProvider {
	return &GeminiProvider{
		name:     "gemini",
		endpoint: "https://generativelanguage.googleapis.com/v1beta/models",
	}
}

func (p *GeminiProvider) Name() string {
	return p.name
}

func (p *GeminiProvider) GetEndpoint() string {
	return p.endpoint
}

// RequestURL appends the model and streaming method to the models base URL.
func (p *GeminiProvider) RequestURL(endpoint, model string) string {
	if endpoint == "" {
		endpoint = p.endpoint
	}
	for _, method := range []string{":streamGenerateContent", ":generateContent"} {
		if i := strings.Index(endpoint, method); i >= 0 {
			endpoint = endpoint[:i]
		}
	}

	endpoint = strings.TrimSuffix(endpoint, "/")
	if !strings.HasSuffix(endpoint, "/"+model) {
		endpoint += "/" + model
	}

	return endpoint + ":streamGenerateContent?alt=sse"
}

func (p *GeminiProvider) SetHeaders(h http.Header, apiKey string) {
	if apiKey != "" {
		h.Set("x-goog-api-key", apiKey)
	}
}

func (p *GeminiProvider) IsStreaming(headers map[string][]string) bool {
	return isStreamingHeaders(headers)
}

func (p *GeminiProvider) ReasoningFormat() normalize.ReasoningFormat {
	return normalize.ReasoningFlat
}

func (p *GeminiProvider) SupportsReasoning() bool {
	return true
}

// Gemini format structures
type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Tools             []geminiTool     `json:"tools,omitempty"`
	GenerationConfig  map[string]any   `json:"generationConfig,omitempty"`
	SafetySettings    []map[string]any `json:"safetySettings,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates,omitempty"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *geminiUsageMetadata  `json:"usageMetadata,omitempty"`
	ModelVersion   string                `json:"modelVersion,omitempty"`
	ResponseID     string                `json:"responseId,omitempty"`
	Error          *upstreamError        `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
	Index        int            `json:"index,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts,omitempty"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *geminiBlob             `json:"inlineData,omitempty"`
	FileData         *geminiFileData         `json:"fileData,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string `json:"name"`
	Response any    `json:"response"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

var geminiSafetySettings = []map[string]any{
	{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_NONE"},
}

// Thinking budgets used for the effort levels.
var geminiThinkingBudgets = map[string]int{
	"minimal": 0,
	"low":     1024,
	"medium":  8192,
	"high":    24576,
}

func (p *GeminiProvider) BuildRequest(req *chat.Request) ([]byte, error) {
	out := geminiRequest{SafetySettings: geminiSafetySettings}

	// Function responses must carry the function name, which tool messages
	// only reference by call id.
	callNames := make(map[string]string)

	for _, msg := range req.Messages {
		switch msg.Role {
		case chat.RoleSystem:
			if out.SystemInstruction == nil {
				out.SystemInstruction = &geminiContent{}
			}
			out.SystemInstruction.Parts = append(out.SystemInstruction.Parts, geminiPart{Text: contentText(msg.Content)})
		case chat.RoleAssistant:
			content := geminiContent{Role: "model"}
			if text := contentText(msg.Content); text != "" {
				content.Parts = append(content.Parts, geminiPart{Text: text})
			}
			for _, call := range msg.ToolCalls {
				callNames[call.ID] = call.Function.Name

				var args map[string]any
				if call.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
						return nil, fmt.Errorf("failed to parse tool call arguments: %w", err)
					}
				}
				content.Parts = append(content.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: call.Function.Name, Args: args},
				})
			}
			if len(content.Parts) > 0 {
				out.Contents = append(out.Contents, content)
			}
		case chat.RoleTool:
			name := callNames[msg.ToolCallID]
			if name == "" {
				name = msg.Name
			}
			out.Contents = append(out.Contents, geminiContent{
				Role: chat.RoleUser,
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResponse{
						Name:     name,
						Response: map[string]any{"content": contentText(msg.Content)},
					},
				}},
			})
		default:
			out.Contents = append(out.Contents, geminiContent{
				Role:  chat.RoleUser,
				Parts: geminiUserParts(msg.Content),
			})
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, geminiFunctionDeclaration{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			})
		}
		out.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	out.GenerationConfig = p.generationConfig(req)

	return json.Marshal(out)
}

func (p *GeminiProvider) generationConfig(req *chat.Request) map[string]any {
	config := make(map[string]any)

	renames := map[string]string{
		"max_tokens":            "maxOutputTokens",
		"max_completion_tokens": "maxOutputTokens",
		"temperature":           "temperature",
		"top_p":                 "topP",
		"top_k":                 "topK",
		"stop":                  "stopSequences",
		"seed":                  "seed",
	}
	for from, to := range renames {
		if value, ok := req.Extra[from]; ok {
			config[to] = value
		}
	}

	if effort := req.Effort(); effort != "" {
		if budget, ok := geminiThinkingBudgets[strings.ToLower(effort)]; ok {
			config["thinkingConfig"] = map[string]any{"thinkingBudget": budget}
		}
	}

	if len(config) == 0 {
		return nil
	}

	return config
}

func (p *GeminiProvider) NewStreamDecoder() StreamDecoder {
	return &geminiDecoder{}
}

func (p *GeminiProvider) DecodeResponse(body []byte) ([]Delta, error) {
	var responses []geminiResponse

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &responses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal Gemini response: %w", err)
		}
	} else {
		var single geminiResponse
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("failed to unmarshal Gemini response: %w", err)
		}
		responses = append(responses, single)
	}

	decoder := &geminiDecoder{}

	var deltas []Delta
	for i := range responses {
		deltas = append(deltas, decoder.decodeResponse(&responses[i]))
	}

	return deltas, nil
}

// geminiDecoder numbers function calls in arrival order; Gemini sends each
// call whole and without an id.
type geminiDecoder struct {
	calls int
}

func (d *geminiDecoder) Decode(ev sse.Event) []Delta {
	var resp geminiResponse
	if err := json.Unmarshal(ev.Data, &resp); err != nil {
		return nil
	}

	return []Delta{d.decodeResponse(&resp)}
}

func (d *geminiDecoder) decodeResponse(resp *geminiResponse) Delta {
	if resp.Error != nil {
		return Delta{Err: resp.Error.err()}
	}

	var delta Delta

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" && len(resp.Candidates) == 0 {
		return Delta{Err: fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)}
	}

	if len(resp.Candidates) == 0 {
		return delta
	}

	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}

			if part.FunctionCall != nil {
				args := "{}"
				if part.FunctionCall.Args != nil {
					if data, err := json.Marshal(part.FunctionCall.Args); err == nil {
						args = string(data)
					}
				}
				delta.ToolCalls = append(delta.ToolCalls, toolcall.IndexedDelta(d.calls, "", part.FunctionCall.Name, args))
				d.calls++
			}
		}
		delta.Content = text.String()
	}

	if candidate.FinishReason != "" {
		delta.FinishReason = d.convertFinishReason(candidate.FinishReason)

		// usageMetadata is cumulative; only the final chunk is counted.
		if resp.UsageMetadata != nil {
			delta.Usage = &chat.Usage{
				PromptTokens:     resp.UsageMetadata.PromptTokenCount,
				CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      resp.UsageMetadata.TotalTokenCount,
			}
		}
	}

	return delta
}

func (d *geminiDecoder) convertFinishReason(reason string) string {
	if d.calls > 0 {
		return chat.FinishReasonToolCalls
	}

	switch reason {
	case "MAX_TOKENS":
		return chat.FinishReasonLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return "content_filter"
	default:
		return chat.FinishReasonStop
	}
}

// geminiUserParts maps user content onto parts. Images become inlineData when
// sent as base64 data URLs and fileData otherwise.
func geminiUserParts(content any) []geminiPart {
	parts := contentParts(content)
	if parts == nil {
		return []geminiPart{{Text: contentText(content)}}
	}

	out := make([]geminiPart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case "image_url", "input_image":
			ref, _ := part.imageURL()
			if ref == "" {
				continue
			}
			if blob, ok := parseDataURL(ref); ok {
				out = append(out, geminiPart{InlineData: blob})
				continue
			}
			out = append(out, geminiPart{FileData: &geminiFileData{MimeType: guessMimeType(ref), FileURI: ref}})
		default:
			if part.Text != "" {
				out = append(out, geminiPart{Text: part.Text})
			}
		}
	}

	if len(out) == 0 {
		return []geminiPart{{Text: ""}}
	}
	return out
}

// parseDataURL splits data:<mime>;base64,<payload>.
func parseDataURL(ref string) (*geminiBlob, bool) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return nil, false
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, false
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, false
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &geminiBlob{MimeType: mimeType, Data: data}, true
}

func guessMimeType(ref string) string {
	p := ref
	if u, err := url.Parse(ref); err == nil {
		p = u.Path
	}
	if t := mime.TypeByExtension(path.Ext(p)); t != "" {
		mimeType, _, _ := strings.Cut(t, ";")
		return mimeType
	}
	return "image/jpeg"
}
