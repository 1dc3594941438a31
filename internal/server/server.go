package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mihaisavezi/toolgate/internal/config"
	"github.com/mihaisavezi/toolgate/internal/handlers"
	"github.com/mihaisavezi/toolgate/internal/middleware"
	"github.com/mihaisavezi/toolgate/internal/providers"
	"github.com/mihaisavezi/toolgate/internal/store"
	"github.com/mihaisavezi/toolgate/internal/tokens"
	"github.com/mihaisavezi/toolgate/internal/tools"
)

type Server struct {
	config        *config.Manager
	registry      *providers.Registry
	tools         *tools.Registry
	counter       tokens.Counter
	conversations *store.Store
	logger        *slog.Logger
	server        *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) (*Server, error) {
	registry := providers.NewRegistry()
	registry.Initialize()

	counter := tokens.Fallback{tokens.NewTiktoken(tokens.DefaultEncoding), tokens.Approximate{}}

	toolRegistry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(toolRegistry, time.Now, counter); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	return &Server{
		config:        configManager,
		registry:      registry,
		tools:         toolRegistry,
		counter:       counter,
		conversations: store.New(configManager.Get().Gateway.MaxConversations),
		logger:        logger,
	}, nil
}

// Tools exposes the registry so callers can add their own tools before
// Start.
func (s *Server) Tools() *tools.Registry {
	return s.tools
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	s.logger.Info("Starting server", "address", addr, "tools", s.tools.Names())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	s.logger.Info("Server is shutting down...")

	// Streams in flight get the full upstream budget to finish.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.StreamTimeout()+10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler builds the routed, middleware-wrapped gateway handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	resolver := handlers.NewResolver(s.config, s.registry, s.tools, s.counter, s.logger)

	chatHandler := handlers.NewChatHandler(s.config, resolver, s.tools, s.conversations, s.logger)
	conversationsHandler := handlers.NewConversationsHandler(s.conversations, s.logger)
	modelsHandler := handlers.NewModelsHandler(s.config, s.logger)
	healthHandler := handlers.NewHealthHandler(s.config, s.tools, s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)
	api := middlewareSet.DefaultChain()

	mux.Handle("POST /v1/chat/completions", api.Handler(chatHandler))
	mux.Handle("/v1/conversations/{id}", api.Handler(conversationsHandler))
	mux.Handle("GET /v1/models", api.Handler(modelsHandler))
	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))
	// Telemetry beacons land on arbitrary paths; the sink sits in front of
	// the fallback.
	mux.Handle("/", api.Handler(http.HandlerFunc(s.notFound)))

	return mux
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"not_found_error"}}`+"\n", "no route for "+r.Method+" "+r.URL.Path)
}
