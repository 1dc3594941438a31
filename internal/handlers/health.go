package handlers

import (
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/toolgate/internal/config"
	"github.com/mihaisavezi/toolgate/internal/tools"
)

type HealthHandler struct {
	config *config.Manager
	tools  *tools.Registry
	logger *slog.Logger
}

func NewHealthHandler(cfg *config.Manager, toolRegistry *tools.Registry, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		config: cfg,
		tools:  toolRegistry,
		logger: logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": len(h.config.Get().Providers),
		"tools":     h.tools.Names(),
	}, h.logger)
}
