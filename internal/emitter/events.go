// Package emitter turns orchestration events into client wire bytes: SSE
// chunks for streaming calls, one chat.completion object otherwise.
package emitter

import (
	"github.com/mihaisavezi/toolgate/internal/chat"
)

// Event is the closed set of client-facing events.
type Event interface {
	clientEvent()
}

// ContentDelta carries assistant text as soon as it arrives.
type ContentDelta struct {
	Text string
}

// ToolCallsChunk carries every finalized tool call of one round.
type ToolCallsChunk struct {
	Calls []chat.ToolCall
}

// ToolOutput is the gateway extension reporting one executed tool.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Output     string `json:"output"`
}

// Metadata is the conversation bookkeeping sent right before Done.
type Metadata struct {
	ConversationID string      `json:"id,omitempty"`
	ProviderID     string      `json:"provider_id,omitempty"`
	Model          string      `json:"model,omitempty"`
	Rounds         int         `json:"rounds"`
	Error          bool        `json:"error,omitempty"`
	Usage          *chat.Usage `json:"usage,omitempty"`
}

// Done terminates the response. PendingToolCalls is non-empty only when a
// single-round run stopped on tool calls it did not execute.
type Done struct {
	FinishReason     string
	PendingToolCalls []chat.ToolCall
}

func (ContentDelta) clientEvent()   {}
func (ToolCallsChunk) clientEvent() {}
func (ToolOutput) clientEvent()     {}
func (Metadata) clientEvent()       {}
func (Done) clientEvent()           {}

// Emitter writes events to one client.
type Emitter interface {
	// Emit writes the event; it is a no-op once the client is gone or Done
	// was emitted.
	Emit(ev Event)
	// Closed reports whether the client can no longer receive writes.
	Closed() bool
}
