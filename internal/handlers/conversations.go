package handlers

import (
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/toolgate/internal/middleware"
	"github.com/mihaisavezi/toolgate/internal/store"
)

// ConversationsHandler serves /v1/conversations/{id}. Conversations are only
// visible to the user that created them.
type ConversationsHandler struct {
	conversations *store.Store
	logger        *slog.Logger
}

func NewConversationsHandler(conversations *store.Store, logger *slog.Logger) *ConversationsHandler {
	return &ConversationsHandler{
		conversations: conversations,
		logger:        logger,
	}
}

func (h *ConversationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, ok := h.conversations.Get(id)
	if !ok || conv.UserID != middleware.UserIDFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found_error", "conversation "+id+" not found", h.logger)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, conv, h.logger)
	case http.MethodDelete:
		h.conversations.Delete(id)
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true}, h.logger)
	default:
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method "+r.Method+" not allowed", h.logger)
	}
}
