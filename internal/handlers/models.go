package handlers

import (
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/toolgate/internal/config"
)

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelsHandler lists every allowed model as "provider,model", the form the
// chat endpoint accepts.
type ModelsHandler struct {
	config *config.Manager
	logger *slog.Logger
}

func NewModelsHandler(cfg *config.Manager, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{
		config: cfg,
		logger: logger,
	}
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	list := modelList{Object: "list", Data: []modelEntry{}}

	for _, p := range h.config.Get().Providers {
		for _, model := range p.GetAllowedModels() {
			list.Data = append(list.Data, modelEntry{
				ID:      p.Name + "," + model,
				Object:  "model",
				OwnedBy: p.Name,
			})
		}
	}

	writeJSON(w, http.StatusOK, list, h.logger)
}
