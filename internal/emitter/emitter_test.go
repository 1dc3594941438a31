package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/toolgate/internal/chat"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dataLines(t *testing.T, body string) []string {
	t.Helper()

	var out []string
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		require.True(t, strings.HasPrefix(block, "data: "), block)
		out = append(out, strings.TrimPrefix(block, "data: "))
	}
	return out
}

func TestSSE_EmitsChunksInOrder(t *testing.T) {
	rec := httptest.NewRecorder()
	e := NewSSE(context.Background(), rec, "chatcmpl-1", "gpt-test", discardLogger())

	e.Emit(ContentDelta{Text: "Hel"})
	e.Emit(ContentDelta{Text: "lo"})
	e.Emit(ToolCallsChunk{Calls: []chat.ToolCall{{
		ID: "call_1", Type: "function", Function: chat.FunctionCall{Name: "get_time", Arguments: "{}"},
	}}})
	e.Emit(ToolOutput{ToolCallID: "call_1", Name: "get_time", Output: "12:00"})
	e.Emit(Metadata{ConversationID: "conv-1", Rounds: 2})
	e.Emit(Done{})

	assert.Equal(t, ContentTypeEventStream, rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)

	lines := dataLines(t, rec.Body.String())
	require.Len(t, lines, 7)

	var first Chunk
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "chatcmpl-1", first.ID)
	assert.Equal(t, "chat.completion.chunk", first.Object)
	require.Len(t, first.Choices, 1)
	assert.Equal(t, "Hel", *first.Choices[0].Delta.Content)
	assert.Nil(t, first.Choices[0].FinishReason)
	assert.Contains(t, lines[0], `"finish_reason":null`)

	var calls Chunk
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &calls))
	require.Len(t, calls.Choices[0].Delta.ToolCalls, 1)
	assert.Equal(t, "get_time", calls.Choices[0].Delta.ToolCalls[0].Function.Name)

	var output map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &output))
	delta := output["choices"].([]any)[0].(map[string]any)["delta"].(map[string]any)
	assert.Equal(t, map[string]any{"tool_call_id": "call_1", "name": "get_time", "output": "12:00"}, delta["tool_output"])

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[4]), &meta))
	assert.Equal(t, "conv-1", meta["_conversation"].(map[string]any)["id"])

	var finish map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[5]), &finish))
	choice := finish["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{}, choice["delta"])
	assert.Equal(t, "stop", choice["finish_reason"])

	assert.Equal(t, "[DONE]", lines[6])
}

func TestSSE_FinishChunkCarriesReason(t *testing.T) {
	rec := httptest.NewRecorder()
	e := NewSSE(context.Background(), rec, "chatcmpl-2", "gpt-test", discardLogger())

	e.Emit(ContentDelta{Text: "partial"})
	e.Emit(Done{FinishReason: chat.FinishReasonLength})

	lines := dataLines(t, rec.Body.String())
	require.Len(t, lines, 3)

	var finish Chunk
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &finish))
	assert.Equal(t, "chatcmpl-2", finish.ID)
	require.Len(t, finish.Choices, 1)
	require.NotNil(t, finish.Choices[0].FinishReason)
	assert.Equal(t, chat.FinishReasonLength, *finish.Choices[0].FinishReason)
	assert.Nil(t, finish.Choices[0].Delta.Content)
	assert.Empty(t, finish.Choices[0].Delta.ToolCalls)

	assert.Equal(t, "[DONE]", lines[2])
}

func TestSSE_NoWritesAfterDone(t *testing.T) {
	rec := httptest.NewRecorder()
	e := NewSSE(context.Background(), rec, "id", "m", discardLogger())

	e.Emit(Done{})
	e.Emit(Done{})
	e.Emit(ContentDelta{Text: "late"})

	lines := dataLines(t, rec.Body.String())
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"finish_reason":"stop"`)
	assert.Equal(t, "[DONE]", lines[1])
	assert.NotContains(t, rec.Body.String(), "late")
}

func TestSSE_ClientGoneTurnsWritesIntoNoops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	e := NewSSE(ctx, rec, "id", "m", discardLogger())

	e.Emit(ContentDelta{Text: "before"})
	assert.False(t, e.Closed())

	cancel()
	e.Emit(ContentDelta{Text: "after"})
	e.Emit(Done{})

	assert.True(t, e.Closed())
	assert.Contains(t, rec.Body.String(), "before")
	assert.NotContains(t, rec.Body.String(), "after")
	assert.NotContains(t, rec.Body.String(), "[DONE]")
}

type failingWriter struct {
	header http.Header
	writes int
}

func (f *failingWriter) Header() http.Header {
	if f.header == nil {
		f.header = make(http.Header)
	}
	return f.header
}

func (f *failingWriter) WriteHeader(int) {}

func (f *failingWriter) Write([]byte) (int, error) {
	f.writes++
	return 0, errors.New("broken pipe")
}

func TestSSE_WriteErrorClosesEmitter(t *testing.T) {
	w := &failingWriter{}
	e := NewSSE(context.Background(), w, "id", "m", discardLogger())

	e.Emit(ContentDelta{Text: "x"})
	assert.True(t, e.Closed())

	e.Emit(ContentDelta{Text: "y"})
	e.Emit(Done{})
	assert.Equal(t, 1, w.writes)
}

func TestJSON_BuildsCompletion(t *testing.T) {
	e := NewJSON(context.Background(), "chatcmpl-2", "gpt-test")

	calls := []chat.ToolCall{{ID: "call_1", Type: "function", Function: chat.FunctionCall{Name: "get_time"}}}
	e.Emit(ToolCallsChunk{Calls: calls})
	e.Emit(ToolOutput{ToolCallID: "call_1", Name: "get_time", Output: "noon"})
	e.Emit(ContentDelta{Text: "It is "})
	e.Emit(ContentDelta{Text: "noon"})
	e.Emit(Metadata{ConversationID: "conv", Rounds: 2, Usage: &chat.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}})
	e.Emit(Done{FinishReason: chat.FinishReasonStop})
	e.Emit(ContentDelta{Text: "ignored"})

	resp := e.Completion()
	assert.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "It is noon", resp.Choices[0].Message.Content)
	assert.Nil(t, resp.Choices[0].Message.ToolCalls)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.Len(t, resp.ToolEvents, 2)
	assert.Equal(t, "tool_calls", resp.ToolEvents[0].Type)
	assert.Equal(t, "noon", resp.ToolEvents[1].Output.Output)
	assert.Equal(t, 7, resp.Usage.TotalTokens)

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	message := decoded["choices"].([]any)[0].(map[string]any)["message"]
	assert.Equal(t, map[string]any{"role": "assistant", "content": "It is noon"}, message)
}

func TestJSON_PendingToolCalls(t *testing.T) {
	e := NewJSON(context.Background(), "id", "m")

	pending := []chat.ToolCall{{ID: "call_9", Type: "function", Function: chat.FunctionCall{Name: "loop"}}}
	e.Emit(Done{FinishReason: chat.FinishReasonToolCalls, PendingToolCalls: pending})

	resp := e.Completion()
	assert.Equal(t, pending, resp.Choices[0].Message.ToolCalls)
	assert.Equal(t, "tool_calls", resp.Choices[0].FinishReason)
	assert.False(t, e.Closed())
}
