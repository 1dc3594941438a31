package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/mihaisavezi/toolgate/internal/chat"
	"github.com/mihaisavezi/toolgate/internal/normalize"
	"github.com/mihaisavezi/toolgate/internal/sse"
	"github.com/mihaisavezi/toolgate/internal/toolcall"
)

// Provider is one upstream wire dialect.
type Provider interface {
	Name() string
	// GetEndpoint is the default URL used when the configuration has none.
	GetEndpoint() string
	// RequestURL resolves the URL for a single call.
	RequestURL(endpoint, model string) string
	SetHeaders(h http.Header, apiKey string)
	BuildRequest(req *chat.Request) ([]byte, error)
	NewStreamDecoder() StreamDecoder
	// DecodeResponse handles upstreams that answer with a plain JSON body.
	DecodeResponse(body []byte) ([]Delta, error)
	IsStreaming(headers map[string][]string) bool
	ReasoningFormat() normalize.ReasoningFormat
	SupportsReasoning() bool
}

// StreamDecoder turns upstream SSE events into deltas. A decoder is bound to
// one round.
type StreamDecoder interface {
	Decode(ev sse.Event) []Delta
}

// Delta is the dialect-neutral view of one upstream event.
type Delta struct {
	Content          string
	ToolCalls        []toolcall.Delta
	ReasoningDetails []json.RawMessage
	FinishReason     string
	Usage            *chat.Usage
	// Done marks dialects that signal the end of a round in-band.
	Done bool
	// Err is an error reported inside the stream.
	Err error
}

// Registry manages provider instances
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry
func (r *Registry) Register(provider Provider) {
	r.providers[provider.Name()] = provider
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, bool) {
	provider, exists := r.providers[name]
	return provider, exists
}

// GetByDomain returns a provider based on the API base URL domain
func (r *Registry) GetByDomain(apiBase string) (Provider, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}

	domain := strings.ToLower(u.Hostname())

	domainProviderMap := map[string]string{
		"openrouter.ai":                     "openrouter",
		"api.openrouter.ai":                 "openrouter",
		"api.openai.com":                    "openai",
		"openai.com":                        "openai",
		"api.anthropic.com":                 "anthropic",
		"anthropic.com":                     "anthropic",
		"integrate.api.nvidia.com":          "nvidia",
		"api.nvidia.com":                    "nvidia",
		"generativelanguage.googleapis.com": "gemini",
		"googleapis.com":                    "gemini",
	}

	if providerName, exists := domainProviderMap[domain]; exists {
		if strings.HasSuffix(u.Path, "/responses") {
			providerName = "responses"
		}
		if provider, found := r.Get(providerName); found {
			return provider, nil
		}
	}

	return nil, fmt.Errorf("no provider found for domain: %s", domain)
}

// Resolve picks the dialect for a configured provider: an explicit type
// wins over domain detection.
func (r *Registry) Resolve(providerType, apiBase string) (Provider, error) {
	if providerType != "" {
		provider, ok := r.Get(providerType)
		if !ok {
			return nil, fmt.Errorf("unknown provider type %q", providerType)
		}
		return provider, nil
	}

	return r.GetByDomain(apiBase)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Initialize registers all built-in providers
func (r *Registry) Initialize() {
	r.Register(NewOpenRouterProvider())
	r.Register(NewOpenAIProvider())
	r.Register(NewAnthropicProvider())
	r.Register(NewNvidiaProvider())
	r.Register(NewGeminiProvider())
	r.Register(NewResponsesProvider())
}
