package providers

import (
	"github.com/mihaisavezi/toolgate/internal/normalize"
)

// NewAnthropicProvider uses Anthropic's OpenAI-compatible endpoint. Reasoning
// and verbosity parameters are not accepted there.
func NewAnthropicProvider() *ChatProvider {
	return &ChatProvider{
		name:     "anthropic",
		endpoint: "https://api.anthropic.com/v1/chat/completions",
		format:   normalize.ReasoningNone,
	}
}
