package store

import (
	"errors"
	"log/slog"

	"github.com/mihaisavezi/toolgate/internal/chat"
	"github.com/mihaisavezi/toolgate/internal/emitter"
	"github.com/mihaisavezi/toolgate/internal/orchestrator"
)

// Recorder persists one request's progress into a conversation. It is used
// from the orchestrating goroutine only.
type Recorder struct {
	store  *Store
	id     string
	logger *slog.Logger

	providerID string
	model      string
	// open is set while the last stored turn is an assistant turn that
	// streamed text may still extend.
	open bool
}

// ErrNotOwner is returned when a request names a conversation owned by
// another user.
var ErrNotOwner = errors.New("conversation belongs to another user")

// Begin starts recording a request. history replaces the stored turns, since
// clients resend the whole conversation. An existing conversation keeps its
// owner; other users get ErrNotOwner and nothing is changed.
func (s *Store) Begin(id, userID, providerID, model string, history []chat.Message, logger *slog.Logger) (*Recorder, error) {
	turns := append([]chat.Message(nil), history...)

	var err error
	s.Update(id, func(c *Conversation) {
		if c.UserID != "" && c.UserID != userID {
			err = ErrNotOwner
			return
		}

		c.UserID = userID
		c.ProviderID = providerID
		c.Model = model
		c.Messages = turns
		c.Error = false
		c.ErrorMessage = ""
	})
	if err != nil {
		return nil, err
	}

	return &Recorder{
		store:      s,
		id:         id,
		logger:     logger,
		providerID: providerID,
		model:      model,
	}, nil
}

func (r *Recorder) ConversationID() string {
	return r.id
}

func (r *Recorder) AppendText(text string) {
	open := r.open
	r.store.Update(r.id, func(c *Conversation) {
		if open && len(c.Messages) > 0 {
			last := &c.Messages[len(c.Messages)-1]
			last.Content = last.Text() + text
			return
		}
		c.Messages = append(c.Messages, chat.Message{Role: chat.RoleAssistant, Content: text})
	})
	r.open = true
}

func (r *Recorder) AppendToolCalls(calls []chat.ToolCall) {
	open := r.open
	r.store.Update(r.id, func(c *Conversation) {
		if open && len(c.Messages) > 0 {
			c.Messages[len(c.Messages)-1].ToolCalls = calls
			return
		}
		c.Messages = append(c.Messages, chat.Message{Role: chat.RoleAssistant, ToolCalls: calls})
	})
	r.open = false
}

func (r *Recorder) AppendToolOutput(out emitter.ToolOutput) {
	r.store.Update(r.id, func(c *Conversation) {
		c.Messages = append(c.Messages, chat.Message{
			Role:       chat.RoleTool,
			ToolCallID: out.ToolCallID,
			Name:       out.Name,
			Content:    out.Output,
		})
	})
	r.open = false
}

func (r *Recorder) MarkError(err error) {
	r.store.Update(r.id, func(c *Conversation) {
		c.Error = true
		c.ErrorMessage = err.Error()
	})
}

func (r *Recorder) Metadata() emitter.Metadata {
	return emitter.Metadata{
		ConversationID: r.id,
		ProviderID:     r.providerID,
		Model:          r.model,
	}
}

func (r *Recorder) RecordFinal(state *orchestrator.State) {
	r.store.Update(r.id, func(c *Conversation) {
		c.Rounds = state.Requests
		c.FinishReason = state.FinishReason
		c.Usage = state.Usage
		if state.Err != nil {
			c.Error = true
			c.ErrorMessage = state.Err.Error()
		}
	})

	r.logger.Debug("Conversation recorded",
		"conversation_id", r.id,
		"rounds", state.Requests,
		"finish_reason", state.FinishReason,
		"error", state.ErrorKind,
	)
}

var _ orchestrator.Persistence = (*Recorder)(nil)
