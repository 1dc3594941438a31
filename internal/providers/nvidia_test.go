package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/toolgate/internal/chat"
	"github.com/mihaisavezi/toolgate/internal/normalize"
)

func TestChatProviders_ReasoningSupport(t *testing.T) {
	tests := []struct {
		provider  *ChatProvider
		format    normalize.ReasoningFormat
		reasoning bool
	}{
		{NewOpenAIProvider(), normalize.ReasoningFlat, true},
		{NewOpenRouterProvider(), normalize.ReasoningNested, true},
		{NewNvidiaProvider(), normalize.ReasoningNone, false},
		{NewAnthropicProvider(), normalize.ReasoningNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.provider.Name(), func(t *testing.T) {
			assert.Equal(t, tt.format, tt.provider.ReasoningFormat())
			assert.Equal(t, tt.reasoning, tt.provider.SupportsReasoning())
		})
	}
}

func TestNvidiaProvider_BuildRequest(t *testing.T) {
	provider := NewNvidiaProvider()

	result, err := provider.BuildRequest(&chat.Request{
		Model:    "meta/llama-3.1-70b-instruct",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
		Stream:   true,
		Extra:    map[string]any{"max_tokens": 10},
	})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(result, &body))

	assert.Equal(t, float64(10), body["max_tokens"])
	assert.NotContains(t, body, "stream_options", "nim rejects stream_options")
	assert.NotContains(t, body, "reasoning")
}

func TestNvidiaProvider_DecodeResponseDefaultsFinishReason(t *testing.T) {
	provider := NewNvidiaProvider()

	deltas, err := provider.DecodeResponse([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, "ok", deltas[0].Content)
	assert.Equal(t, "stop", deltas[0].FinishReason)

	deltas, err = provider.DecodeResponse([]byte(`{"error":{"message":"model not found"}}`))
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.EqualError(t, deltas[0].Err, "model not found")
}
