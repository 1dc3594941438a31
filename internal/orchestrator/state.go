package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/mihaisavezi/toolgate/internal/chat"
	"github.com/mihaisavezi/toolgate/internal/emitter"
	"github.com/mihaisavezi/toolgate/internal/providers"
	"github.com/mihaisavezi/toolgate/internal/toolcall"
)

// State is the orchestration state of one client request.
type State struct {
	// Round starts at 1 and grows after every round that ran tools.
	Round int
	// Requests counts upstream calls actually made.
	Requests int
	Messages []chat.Message
	// FinishReason is the last upstream finish reason.
	FinishReason string
	// PendingToolCalls are calls nobody executed. Only single-round runs
	// leave them; at the round limit every call has already run.
	PendingToolCalls []chat.ToolCall
	RoundLimitHit    bool
	Usage            chat.Usage
	Err              error
	ErrorKind        ErrorKind
	Terminated       bool
}

func newState(messages []chat.Message) *State {
	history := make([]chat.Message, len(messages))
	copy(history, messages)

	return &State{
		Round:    1,
		Messages: history,
	}
}

// Answer is the assistant text of the final turn, if any.
func (s *State) Answer() string {
	if len(s.Messages) == 0 {
		return ""
	}
	last := s.Messages[len(s.Messages)-1]
	if last.Role != chat.RoleAssistant {
		return ""
	}
	return last.Text()
}

// round collects one upstream response.
type round struct {
	emitter     emitter.Emitter
	persistence Persistence

	text         strings.Builder
	accumulator  *toolcall.Accumulator
	details      []json.RawMessage
	finishReason string
	usage        *chat.Usage
	done         bool
	err          error
}

func newRound(em emitter.Emitter, p Persistence) *round {
	return &round{
		emitter:     em,
		persistence: p,
		accumulator: toolcall.NewAccumulator(),
	}
}

func (r *round) apply(d providers.Delta) {
	if r.done {
		return
	}

	if d.Err != nil {
		r.err = &TransportError{Err: d.Err}
		r.done = true
		return
	}

	if d.Content != "" {
		r.text.WriteString(d.Content)
		r.emitter.Emit(emitter.ContentDelta{Text: d.Content})
		r.persistence.AppendText(d.Content)
	}
	if len(d.ToolCalls) > 0 {
		r.accumulator.Apply(d.ToolCalls)
	}
	r.details = append(r.details, d.ReasoningDetails...)
	if d.FinishReason != "" {
		r.finishReason = d.FinishReason
	}
	if d.Usage != nil {
		r.usage = d.Usage
	}
	if d.Done {
		r.done = true
	}
}

// assistantTurn builds the history entry for a round that produced tool calls.
func (r *round) assistantTurn(calls []chat.ToolCall) chat.Message {
	msg := chat.Message{
		Role:      chat.RoleAssistant,
		ToolCalls: calls,
	}
	if text := r.text.String(); text != "" {
		msg.Content = text
	}
	if len(r.details) > 0 {
		if data, err := json.Marshal(r.details); err == nil {
			msg.ReasoningDetails = data
		}
	}
	return msg
}
