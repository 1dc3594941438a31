package emitter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mihaisavezi/toolgate/internal/chat"
)

const objectCompletion = "chat.completion"

// Completion is the non-streaming response body.
type Completion struct {
	ID           string             `json:"id"`
	Object       string             `json:"object"`
	Created      int64              `json:"created"`
	Model        string             `json:"model"`
	Choices      []CompletionChoice `json:"choices"`
	Usage        *chat.Usage        `json:"usage,omitempty"`
	ToolEvents   []ToolEvent        `json:"tool_events,omitempty"`
	Conversation *Metadata          `json:"_conversation,omitempty"`
}

type CompletionChoice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type CompletionMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls []chat.ToolCall `json:"tool_calls,omitempty"`
}

// ToolEvent records a tool-call batch or a tool output in the order they
// happened.
type ToolEvent struct {
	Type      string          `json:"type"`
	ToolCalls []chat.ToolCall `json:"tool_calls,omitempty"`
	Output    *ToolOutput     `json:"output,omitempty"`
}

// JSON collects events into one chat.completion object.
type JSON struct {
	mu  sync.Mutex
	ctx context.Context

	id      string
	model   string
	created int64

	content    strings.Builder
	toolEvents []ToolEvent
	meta       *Metadata
	finish     string
	pending    []chat.ToolCall
	done       bool
}

func NewJSON(ctx context.Context, id, model string) *JSON {
	return &JSON{
		ctx:     ctx,
		id:      id,
		model:   model,
		created: time.Now().Unix(),
	}
}

func (e *JSON) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return
	}

	switch ev := ev.(type) {
	case ContentDelta:
		e.content.WriteString(ev.Text)
	case ToolCallsChunk:
		e.toolEvents = append(e.toolEvents, ToolEvent{Type: "tool_calls", ToolCalls: ev.Calls})
	case ToolOutput:
		out := ev
		e.toolEvents = append(e.toolEvents, ToolEvent{Type: "tool_output", Output: &out})
	case Metadata:
		meta := ev
		e.meta = &meta
	case Done:
		e.finish = ev.FinishReason
		e.pending = ev.PendingToolCalls
		e.done = true
	}
}

// Closed reports whether the client went away; the body is still built.
func (e *JSON) Closed() bool {
	return e.ctx.Err() != nil
}

// Completion returns the collected response.
func (e *JSON) Completion() *Completion {
	e.mu.Lock()
	defer e.mu.Unlock()

	finish := e.finish
	if finish == "" {
		finish = chat.FinishReasonStop
	}

	resp := &Completion{
		ID:      e.id,
		Object:  objectCompletion,
		Created: e.created,
		Model:   e.model,
		Choices: []CompletionChoice{{
			Index: 0,
			Message: CompletionMessage{
				Role:      chat.RoleAssistant,
				Content:   e.content.String(),
				ToolCalls: e.pending,
			},
			FinishReason: finish,
		}},
		ToolEvents:   e.toolEvents,
		Conversation: e.meta,
	}
	if e.meta != nil {
		resp.Usage = e.meta.Usage
	}

	return resp
}
