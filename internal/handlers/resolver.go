package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mihaisavezi/toolgate/internal/chat"
	"github.com/mihaisavezi/toolgate/internal/config"
	"github.com/mihaisavezi/toolgate/internal/normalize"
	"github.com/mihaisavezi/toolgate/internal/providers"
	"github.com/mihaisavezi/toolgate/internal/tokens"
	"github.com/mihaisavezi/toolgate/internal/tools"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrModelNotAllowed = errors.New("model not allowed")
	ErrNoRoute         = errors.New("no route configured")
)

const (
	RouteExplicit    = "explicit"
	RouteDefault     = "default"
	RouteThink       = "think"
	RouteLongContext = "long_context"
)

// Target is where one request goes.
type Target struct {
	Config   config.Provider
	Provider providers.Provider
	Model    string
	Route    string
}

// Resolver maps requests onto configured providers and their tool sets.
type Resolver struct {
	config   *config.Manager
	registry *providers.Registry
	tools    *tools.Registry
	counter  tokens.Counter
	logger   *slog.Logger
}

func NewResolver(cfg *config.Manager, registry *providers.Registry, toolRegistry *tools.Registry, counter tokens.Counter, logger *slog.Logger) *Resolver {
	return &Resolver{
		config:   cfg,
		registry: registry,
		tools:    toolRegistry,
		counter:  counter,
		logger:   logger,
	}
}

// Resolve picks the provider and model. An explicit provider_id or a
// "provider,model" model wins; otherwise the router decides by prompt size
// and reasoning effort.
func (r *Resolver) Resolve(body normalize.Body) (*Target, error) {
	cfg := r.config.Get()
	model := body.String("model")

	var (
		providerName string
		route        = RouteExplicit
	)

	switch {
	case body.String(normalize.FieldProviderID) != "":
		providerName = body.String(normalize.FieldProviderID)
		if name, m := providers.ExtractModelFromConfig(model); name != "" {
			model = m
		}
	case strings.Contains(model, ","):
		providerName, model = providers.ExtractModelFromConfig(model)
	default:
		var target string
		target, route = r.route(cfg, body)
		if target == "" {
			return nil, ErrNoRoute
		}

		name, routed := providers.ExtractModelFromConfig(target)
		providerName = name
		if route != RouteDefault || model == "" {
			model = routed
		}
		if providerName == "" && len(cfg.Providers) > 0 {
			providerName = cfg.Providers[0].Name
		}
	}

	providerCfg, ok := cfg.Provider(providerName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}

	if model == "" {
		if allowed := providerCfg.GetAllowedModels(); len(allowed) > 0 {
			model = allowed[0]
		}
	}
	if !providerCfg.IsModelAllowed(model) {
		return nil, fmt.Errorf("%w: %s for provider %s", ErrModelNotAllowed, model, providerName)
	}

	dialect, err := r.registry.Resolve(providerCfg.Type, providerCfg.APIBase)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", providerName, err)
	}

	return &Target{
		Config:   *providerCfg,
		Provider: dialect,
		Model:    model,
		Route:    route,
	}, nil
}

func (r *Resolver) route(cfg *config.Config, body normalize.Body) (string, string) {
	router := cfg.Router

	if router.LongContext != "" {
		n, err := r.counter.Count(string(body["messages"]))
		if err != nil {
			r.logger.Warn("Token counting failed", "error", err)
		} else if n > router.LongContextThreshold {
			r.logger.Debug("Routing to long context model", "tokens", n, "threshold", router.LongContextThreshold)
			return router.LongContext, RouteLongContext
		}
	}

	if router.Think != "" && body.ReasoningEffort() != "" {
		return router.Think, RouteThink
	}

	return router.Default, RouteDefault
}

// DefaultToolset returns the server tools a provider offers when the client
// sent none.
func (r *Resolver) DefaultToolset(providerID string) []chat.Tool {
	providerCfg, ok := r.config.Get().Provider(providerID)
	if !ok || len(providerCfg.DefaultTools) == 0 {
		return nil
	}

	defs, missing := r.tools.Definitions(providerCfg.DefaultTools...)
	if len(missing) > 0 {
		r.logger.Warn("Default tools not registered", "provider", providerID, "tools", missing)
	}

	return defs
}

// SupportsReasoningControls reports whether reasoning and verbosity
// parameters may be forwarded to the provider.
func (r *Resolver) SupportsReasoningControls(providerID string) bool {
	providerCfg, ok := r.config.Get().Provider(providerID)
	if !ok || providerCfg.DisableReasoning {
		return false
	}

	dialect, err := r.registry.Resolve(providerCfg.Type, providerCfg.APIBase)
	if err != nil {
		return false
	}

	return dialect.SupportsReasoning()
}

// ReasoningFormat is the configured override or the dialect default.
func (r *Resolver) ReasoningFormat(target *Target) normalize.ReasoningFormat {
	if target.Config.ReasoningFormat != "" {
		format, err := normalize.ParseReasoningFormat(target.Config.ReasoningFormat)
		if err == nil {
			return format
		}
		r.logger.Warn("Ignoring invalid reasoning format", "provider", target.Config.Name, "error", err)
	}

	return target.Provider.ReasoningFormat()
}
