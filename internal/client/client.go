// Package client talks to a running gateway over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mihaisavezi/toolgate/internal/chat"
	"github.com/mihaisavezi/toolgate/internal/emitter"
	"github.com/mihaisavezi/toolgate/internal/middleware"
	"github.com/mihaisavezi/toolgate/internal/sse"
)

type Client struct {
	baseURL    string
	apiKey     string
	userID     string
	httpClient *http.Client
}

func New(baseURL, apiKey, userID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		userID:     userID,
		httpClient: httpClient,
	}
}

// Request is one chat turn. PreviousResponseID continues a stored
// conversation.
type Request struct {
	Model              string         `json:"model,omitempty"`
	Messages           []chat.Message `json:"messages"`
	Tools              []string       `json:"tools,omitempty"`
	ReasoningEffort    string         `json:"reasoning_effort,omitempty"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
	DisableTools       bool           `json:"disable_tools,omitempty"`
	Stream             bool           `json:"stream"`
}

// Handlers receive stream events as they arrive. Nil handlers are skipped.
type Handlers struct {
	OnContent    func(text string)
	OnToolCalls  func(calls []chat.ToolCall)
	OnToolOutput func(out emitter.ToolOutput)
}

// Result summarizes one streamed turn.
type Result struct {
	Content      string
	Conversation *emitter.Metadata
}

// Healthy reports whether the gateway answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// Stream sends req as a streaming chat call and dispatches the events.
func (c *Client) Stream(ctx context.Context, req Request, h Handlers) (*Result, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.userID != "" {
		httpReq.Header.Set(middleware.HeaderUserID, c.userID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var (
		result   Result
		content  strings.Builder
		leftover []byte
		buf      = make([]byte, 4096)
	)

	onEvent := func(ev sse.Event) {
		var chunk emitter.Chunk
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			return
		}
		if chunk.Conversation != nil {
			result.Conversation = chunk.Conversation
		}
		for _, choice := range chunk.Choices {
			d := choice.Delta
			if d.Content != nil && *d.Content != "" {
				content.WriteString(*d.Content)
				if h.OnContent != nil {
					h.OnContent(*d.Content)
				}
			}
			if len(d.ToolCalls) > 0 && h.OnToolCalls != nil {
				h.OnToolCalls(d.ToolCalls)
			}
			if d.ToolOutput != nil && h.OnToolOutput != nil {
				h.OnToolOutput(*d.ToolOutput)
			}
		}
	}

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			leftover = sse.Parse(leftover, buf[:n], onEvent, func() {})
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read chat stream: %w", readErr)
		}
	}
	sse.Flush(leftover, onEvent, func() {})

	result.Content = content.String()
	return &result, nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, body.Error.Message)
	}

	return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
}
