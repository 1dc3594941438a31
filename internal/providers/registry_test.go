package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	provider := NewOpenRouterProvider()

	registry.Register(provider)

	retrievedProvider, exists := registry.Get("openrouter")
	assert.True(t, exists, "provider should exist after registration")
	assert.Equal(t, "openrouter", retrievedProvider.Name(), "provider name should match")
}

func TestRegistry_GetByDomain(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	testCases := []struct {
		domain   string
		expected string
	}{
		{"https://openrouter.ai/api/v1/chat/completions", "openrouter"},
		{"https://api.openrouter.ai/api/v1/chat/completions", "openrouter"},
		{"https://api.openai.com/v1/chat/completions", "openai"},
		{"https://api.openai.com/v1/responses", "responses"},
		{"https://api.anthropic.com/v1/chat/completions", "anthropic"},
		{"https://integrate.api.nvidia.com/v1/chat/completions", "nvidia"},
		{"https://api.nvidia.com/v1/chat/completions", "nvidia"},
		{"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent", "gemini"},
		{"https://googleapis.com/v1beta/models/gemini-2.0-flash:streamGenerateContent", "gemini"},
	}

	for _, tc := range testCases {
		provider, err := registry.GetByDomain(tc.domain)
		require.NoError(t, err, "should get provider for domain %s", tc.domain)
		assert.Equal(t, tc.expected, provider.Name(), "provider name should match for domain %s", tc.domain)
	}
}

func TestRegistry_GetByDomain_InvalidURL(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	_, err := registry.GetByDomain("invalid-url")
	assert.Error(t, err, "should get error for invalid URL")
}

func TestRegistry_GetByDomain_UnknownDomain(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	_, err := registry.GetByDomain("https://unknown-provider.com/api")
	assert.Error(t, err, "should get error for unknown domain")
}

func TestRegistry_Resolve(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	provider, err := registry.Resolve("responses", "http://127.0.0.1:9999/v1/chat")
	require.NoError(t, err)
	assert.Equal(t, "responses", provider.Name())

	provider, err = registry.Resolve("", "https://openrouter.ai/api/v1/chat/completions")
	require.NoError(t, err)
	assert.Equal(t, "openrouter", provider.Name())

	_, err = registry.Resolve("carrier-pigeon", "")
	assert.Error(t, err)
}

func TestRegistry_List(t *testing.T) {
	registry := NewRegistry()
	registry.Initialize()

	assert.Equal(t, []string{"anthropic", "gemini", "nvidia", "openai", "openrouter", "responses"}, registry.List())
}

func TestRegistry_GetNonExistent(t *testing.T) {
	registry := NewRegistry()

	_, exists := registry.Get("nonexistent")
	assert.False(t, exists, "non-existent provider should not exist")
}

func TestExtractModelFromConfig(t *testing.T) {
	provider, model := ExtractModelFromConfig("openrouter, anthropic/claude-sonnet-4")
	assert.Equal(t, "openrouter", provider)
	assert.Equal(t, "anthropic/claude-sonnet-4", model)

	provider, model = ExtractModelFromConfig("gpt-4o")
	assert.Empty(t, provider)
	assert.Equal(t, "gpt-4o", model)
}
