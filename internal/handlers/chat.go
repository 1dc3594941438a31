package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mihaisavezi/toolgate/internal/config"
	"github.com/mihaisavezi/toolgate/internal/emitter"
	"github.com/mihaisavezi/toolgate/internal/middleware"
	"github.com/mihaisavezi/toolgate/internal/normalize"
	"github.com/mihaisavezi/toolgate/internal/orchestrator"
	"github.com/mihaisavezi/toolgate/internal/providers"
	"github.com/mihaisavezi/toolgate/internal/store"
	"github.com/mihaisavezi/toolgate/internal/tools"
)

const maxRequestBody = 10 << 20

type ChatHandler struct {
	config        *config.Manager
	resolver      *Resolver
	tools         tools.Executor
	conversations *store.Store
	transport     http.RoundTripper
	logger        *slog.Logger
}

func NewChatHandler(cfg *config.Manager, resolver *Resolver, executor tools.Executor, conversations *store.Store, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		config:        cfg,
		resolver:      resolver,
		tools:         executor,
		conversations: conversations,
		transport:     http.DefaultTransport,
		logger:        logger,
	}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.httpError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method %s not allowed", r.Method)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body: %v", err)
		return
	}

	body, err := normalize.Decode(data)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}

	target, err := h.resolver.Resolve(body)
	if err != nil {
		if IsClientError(err) {
			h.httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		} else {
			h.httpError(w, http.StatusInternalServerError, "configuration_error", "%v", err)
		}
		return
	}

	result, err := normalize.Normalize(body, normalize.Options{
		DefaultModel:      target.Model,
		ReasoningFormat:   h.resolver.ReasoningFormat(target),
		ReasoningControls: h.resolver.SupportsReasoningControls(target.Config.Name),
	})
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}

	req := result.Request
	req.Model = target.Model

	if result.Reserved.DisableTools {
		req.Tools = nil
	} else if len(req.Tools) == 0 {
		req.Tools = h.resolver.DefaultToolset(target.Config.Name)
	}

	userID := middleware.UserIDFromContext(r.Context())

	conversationID := result.Reserved.ConversationID
	if previous := result.Reserved.PreviousResponseID; previous != "" {
		if conv, ok := h.conversations.Get(previous); ok {
			if conv.UserID != userID {
				h.conversationNotFound(w, previous, userID)
				return
			}
			req.Messages = append(conv.Messages, req.Messages...)
		}
		if conversationID == "" {
			conversationID = previous
		}
	}
	if conversationID == "" {
		conversationID = "conv_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	recorder, err := h.conversations.Begin(conversationID, userID, target.Config.Name, req.Model, req.Messages, h.logger)
	if err != nil {
		h.conversationNotFound(w, conversationID, userID)
		return
	}

	gateway := h.config.Get().Gateway
	client := providers.NewClient(target.Provider, target.Config.APIBase, target.Config.APIKey, &http.Client{
		Transport: h.transport,
		Timeout:   gateway.UpstreamTimeout(),
	}, h.logger)

	orch := orchestrator.New(client, h.tools, orchestrator.Config{
		MaxRounds:       gateway.MaxRounds,
		StreamTimeout:   gateway.StreamTimeout(),
		ToolConcurrency: gateway.ToolConcurrency,
	}, h.logger)

	h.logger.Info("Chat request",
		"provider", target.Config.Name,
		"dialect", target.Provider.Name(),
		"model", req.Model,
		"route", target.Route,
		"stream", result.Stream,
		"tools", len(req.Tools),
		"conversation_id", conversationID,
		"user_id", userID,
	)

	completionID := "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	in := orchestrator.Input{
		Request:     req,
		Invocation:  tools.Invocation{UserID: userID, ConversationID: conversationID},
		Persistence: recorder,
		SingleRound: result.Reserved.DisableTools,
	}

	if result.Stream {
		in.Emitter = emitter.NewSSE(r.Context(), w, completionID, req.Model, h.logger)
		orch.Run(r.Context(), in)
		return
	}

	collector := emitter.NewJSON(r.Context(), completionID, req.Model)
	in.Emitter = collector
	orch.Run(r.Context(), in)

	writeJSON(w, http.StatusOK, collector.Completion(), h.logger)
}

// conversationNotFound answers like the conversations endpoint so other
// users' conversation ids are indistinguishable from unknown ones.
func (h *ChatHandler) conversationNotFound(w http.ResponseWriter, id, userID string) {
	h.logger.Warn("Conversation owned by another user", "conversation_id", id, "user_id", userID)
	writeError(w, http.StatusNotFound, "not_found_error", "conversation "+id+" not found", h.logger)
}

func (h *ChatHandler) httpError(w http.ResponseWriter, code int, errType, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	h.logger.Error("HTTP Error", "code", code, "message", msg)
	writeError(w, code, errType, msg, h.logger)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeError(w http.ResponseWriter, code int, errType, msg string, logger *slog.Logger) {
	writeJSON(w, code, errorBody{Error: errorDetail{Message: msg, Type: errType}}, logger)
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write response", "error", err)
	}
}

// IsClientError reports errors caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, normalize.ErrInvalidRequest) ||
		errors.Is(err, ErrUnknownProvider) ||
		errors.Is(err, ErrModelNotAllowed) ||
		errors.Is(err, ErrNoRoute)
}
