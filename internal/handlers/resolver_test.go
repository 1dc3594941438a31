package handlers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/toolgate/internal/config"
	"github.com/mihaisavezi/toolgate/internal/normalize"
	"github.com/mihaisavezi/toolgate/internal/providers"
	"github.com/mihaisavezi/toolgate/internal/tools"
)

type fixedCounter struct {
	n   int
	err error
}

func (c fixedCounter) Count(string) (int, error) {
	return c.n, c.err
}

func newTestResolver(t *testing.T, counter fixedCounter) *Resolver {
	t.Helper()

	mgr := config.NewManager(t.TempDir())
	require.NoError(t, mgr.Save(&config.Config{
		Providers: []config.Provider{
			{
				Name:    "openrouter",
				APIBase: "https://openrouter.ai/api/v1/chat/completions",
				Models:  []string{"anthropic/claude-sonnet-4", "deepseek/deepseek-r1"},
			},
			{
				Name:           "openai",
				APIBase:        "https://api.openai.com/v1/responses",
				Models:         []string{"gpt-5", "gpt-4.1-mini"},
				ModelWhitelist: []string{"gpt-5"},
			},
			{
				Name:             "gemini",
				APIBase:          "https://generativelanguage.googleapis.com/v1beta/models",
				Models:           []string{"gemini-2.5-pro"},
				DisableReasoning: true,
			},
		},
		Router: config.RouterConfig{
			Default:              "openrouter,anthropic/claude-sonnet-4",
			Think:                "openrouter,deepseek/deepseek-r1",
			LongContext:          "gemini,gemini-2.5-pro",
			LongContextThreshold: 1000,
		},
	}))
	_, err := mgr.Load()
	require.NoError(t, err)

	registry := providers.NewRegistry()
	registry.Initialize()

	return NewResolver(mgr, registry, tools.NewRegistry(), counter, testLogger())
}

func decodeBody(t *testing.T, raw string) normalize.Body {
	t.Helper()

	b, err := normalize.Decode([]byte(raw))
	require.NoError(t, err)
	return b
}

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name     string
		counter  fixedCounter
		body     string
		provider string
		dialect  string
		model    string
		route    string
		err      error
	}{
		{
			name:     "router default",
			body:     `{"messages":[]}`,
			provider: "openrouter",
			dialect:  "openrouter",
			model:    "anthropic/claude-sonnet-4",
			route:    RouteDefault,
		},
		{
			name:     "default route keeps client model",
			body:     `{"model":"deepseek/deepseek-r1"}`,
			provider: "openrouter",
			model:    "deepseek/deepseek-r1",
			dialect:  "openrouter",
			route:    RouteDefault,
		},
		{
			name:     "explicit provider and model",
			body:     `{"model":"openai,gpt-5"}`,
			provider: "openai",
			dialect:  "responses",
			model:    "gpt-5",
			route:    RouteExplicit,
		},
		{
			name:     "provider_id wins over router",
			body:     `{"provider_id":"gemini","model":"gemini-2.5-pro"}`,
			provider: "gemini",
			dialect:  "gemini",
			model:    "gemini-2.5-pro",
			route:    RouteExplicit,
		},
		{
			name:     "provider_id without model takes first allowed",
			body:     `{"provider_id":"openai"}`,
			provider: "openai",
			dialect:  "responses",
			model:    "gpt-5",
			route:    RouteExplicit,
		},
		{
			name:     "reasoning effort routes to think",
			body:     `{"reasoning_effort":"high"}`,
			provider: "openrouter",
			dialect:  "openrouter",
			model:    "deepseek/deepseek-r1",
			route:    RouteThink,
		},
		{
			name:     "large prompt routes to long context",
			counter:  fixedCounter{n: 5000},
			body:     `{"reasoning_effort":"high","messages":[]}`,
			provider: "gemini",
			dialect:  "gemini",
			model:    "gemini-2.5-pro",
			route:    RouteLongContext,
		},
		{
			name:     "counting failure falls through",
			counter:  fixedCounter{err: errors.New("boom")},
			body:     `{}`,
			provider: "openrouter",
			dialect:  "openrouter",
			model:    "anthropic/claude-sonnet-4",
			route:    RouteDefault,
		},
		{
			name: "unknown provider",
			body: `{"provider_id":"azure"}`,
			err:  ErrUnknownProvider,
		},
		{
			name: "model outside whitelist",
			body: `{"model":"openai,gpt-4.1-mini"}`,
			err:  ErrModelNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(t, tt.counter)

			target, err := r.Resolve(decodeBody(t, tt.body))
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				assert.True(t, IsClientError(err))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.provider, target.Config.Name)
			assert.Equal(t, tt.dialect, target.Provider.Name())
			assert.Equal(t, tt.model, target.Model)
			assert.Equal(t, tt.route, target.Route)
		})
	}
}

func TestResolver_NoRoute(t *testing.T) {
	mgr := config.NewManager(t.TempDir())
	require.NoError(t, mgr.Save(&config.Config{
		Providers: []config.Provider{{Name: "openai", Models: []string{"gpt-5"}}},
	}))

	registry := providers.NewRegistry()
	registry.Initialize()
	r := NewResolver(mgr, registry, tools.NewRegistry(), fixedCounter{}, testLogger())

	_, err := r.Resolve(decodeBody(t, `{"model":"gpt-5"}`))
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestResolver_ReasoningControls(t *testing.T) {
	r := newTestResolver(t, fixedCounter{})

	assert.True(t, r.SupportsReasoningControls("openrouter"))
	assert.False(t, r.SupportsReasoningControls("gemini"), "disabled in config")
	assert.False(t, r.SupportsReasoningControls("missing"))

	target, err := r.Resolve(decodeBody(t, `{"model":"openai,gpt-5"}`))
	require.NoError(t, err)
	assert.Equal(t, normalize.ReasoningNested, r.ReasoningFormat(target))

	target.Config.ReasoningFormat = "not-a-format"
	assert.Equal(t, normalize.ReasoningNested, r.ReasoningFormat(target))
}
