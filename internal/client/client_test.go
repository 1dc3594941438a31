package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/toolgate/internal/chat"
	"github.com/mihaisavezi/toolgate/internal/emitter"
)

func TestStream(t *testing.T) {
	var got map[string]any
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "alice", r.Header.Get("X-User-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_time","arguments":"{}"}}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"index":0,"delta":{"tool_output":{"tool_call_id":"call_1","name":"get_time","output":"3:00 PM"}}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"index":0,"delta":{"content":"It is "}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"index":0,"delta":{"content":"3:00 PM"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[],"_conversation":{"id":"conv-1","rounds":2}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer gateway.Close()

	c := New(gateway.URL+"/", "key", "alice", nil)

	var (
		calls   []chat.ToolCall
		outputs []emitter.ToolOutput
		pieces  []string
	)
	res, err := c.Stream(context.Background(), Request{
		Messages:           []chat.Message{{Role: chat.RoleUser, Content: "time?"}},
		Tools:              []string{"get_time"},
		PreviousResponseID: "conv-0",
	}, Handlers{
		OnContent:    func(text string) { pieces = append(pieces, text) },
		OnToolCalls:  func(c []chat.ToolCall) { calls = append(calls, c...) },
		OnToolOutput: func(o emitter.ToolOutput) { outputs = append(outputs, o) },
	})
	require.NoError(t, err)

	assert.Equal(t, true, got["stream"])
	assert.Equal(t, "conv-0", got["previous_response_id"])

	assert.Equal(t, "It is 3:00 PM", res.Content)
	assert.Equal(t, []string{"It is ", "3:00 PM"}, pieces)
	require.Len(t, calls, 1)
	assert.Equal(t, "get_time", calls[0].Function.Name)
	require.Len(t, outputs, 1)
	assert.Equal(t, "3:00 PM", outputs[0].Output)
	require.NotNil(t, res.Conversation)
	assert.Equal(t, "conv-1", res.Conversation.ConversationID)
	assert.Equal(t, 2, res.Conversation.Rounds)
}

func TestStreamGatewayError(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"json error", `{"error":{"message":"Proxy API key not authorized","type":"authentication_error"}}`, "gateway error (401): Proxy API key not authorized"},
		{"plain text", "nope\n", "gateway error (401): nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, tt.body)
			}))
			defer gateway.Close()

			_, err := New(gateway.URL, "", "", nil).Stream(context.Background(), Request{}, Handlers{})
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestHealthy(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	}))

	c := New(gateway.URL, "", "", nil)
	assert.True(t, c.Healthy(context.Background()))

	gateway.Close()
	assert.False(t, c.Healthy(context.Background()))
}
