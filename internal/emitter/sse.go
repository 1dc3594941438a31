package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mihaisavezi/toolgate/internal/chat"
)

const (
	ContentTypeEventStream = "text/event-stream"

	objectChunk = "chat.completion.chunk"
	doneLine    = "data: [DONE]\n\n"
)

// Chunk is one streamed chat.completion.chunk object.
type Chunk struct {
	ID           string        `json:"id"`
	Object       string        `json:"object"`
	Created      int64         `json:"created"`
	Model        string        `json:"model"`
	Choices      []ChunkChoice `json:"choices"`
	Conversation *Metadata     `json:"_conversation,omitempty"`
}

type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type ChunkDelta struct {
	Role       string          `json:"role,omitempty"`
	Content    *string         `json:"content,omitempty"`
	ToolCalls  []chat.ToolCall `json:"tool_calls,omitempty"`
	ToolOutput *ToolOutput     `json:"tool_output,omitempty"`
}

// SSE streams events as chat.completion.chunk objects.
type SSE struct {
	mu      sync.Mutex
	ctx     context.Context
	w       io.Writer
	flusher http.Flusher
	logger  *slog.Logger

	id      string
	model   string
	created int64

	closed bool
	done   bool
}

// NewSSE writes the event-stream headers and returns an emitter bound to the
// client request context. ctx cancellation marks the client as gone.
func NewSSE(ctx context.Context, w http.ResponseWriter, id, model string, logger *slog.Logger) *SSE {
	w.Header().Set("Content-Type", ContentTypeEventStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	e := &SSE{
		ctx:     ctx,
		w:       w,
		logger:  logger,
		id:      id,
		model:   model,
		created: time.Now().Unix(),
	}
	if flusher, ok := w.(http.Flusher); ok {
		e.flusher = flusher
		flusher.Flush()
	}

	return e
}

func (e *SSE) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done || !e.writableLocked() {
		return
	}

	switch ev := ev.(type) {
	case ContentDelta:
		text := ev.Text
		e.writeChunkLocked(e.chunk(ChunkDelta{Content: &text}))
	case ToolCallsChunk:
		e.writeChunkLocked(e.chunk(ChunkDelta{ToolCalls: ev.Calls}))
	case ToolOutput:
		out := ev
		e.writeChunkLocked(e.chunk(ChunkDelta{ToolOutput: &out}))
	case Metadata:
		meta := ev
		e.writeChunkLocked(&Chunk{
			ID:           e.id,
			Object:       objectChunk,
			Created:      e.created,
			Model:        e.model,
			Choices:      []ChunkChoice{},
			Conversation: &meta,
		})
	case Done:
		reason := ev.FinishReason
		if reason == "" {
			reason = chat.FinishReasonStop
		}
		finish := e.chunk(ChunkDelta{})
		finish.Choices[0].FinishReason = &reason
		e.writeChunkLocked(finish)
		if !e.closed {
			e.writeLocked([]byte(doneLine))
		}
		e.done = true
	}
}

func (e *SSE) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return !e.writableLocked()
}

func (e *SSE) writableLocked() bool {
	if e.closed {
		return false
	}
	if e.ctx.Err() != nil {
		e.closed = true
		return false
	}
	return true
}

func (e *SSE) chunk(delta ChunkDelta) *Chunk {
	return &Chunk{
		ID:      e.id,
		Object:  objectChunk,
		Created: e.created,
		Model:   e.model,
		Choices: []ChunkChoice{{Index: 0, Delta: delta}},
	}
}

func (e *SSE) writeChunkLocked(c *Chunk) {
	data, err := json.Marshal(c)
	if err != nil {
		e.logger.Error("Failed to marshal stream chunk", "error", err)
		return
	}

	e.writeLocked([]byte(fmt.Sprintf("data: %s\n\n", data)))
}

func (e *SSE) writeLocked(data []byte) {
	if _, err := e.w.Write(data); err != nil {
		e.logger.Debug("Client stream closed", "error", err)
		e.closed = true
		return
	}

	if e.flusher != nil {
		e.flusher.Flush()
	}
}
