package providers

import (
	"github.com/mihaisavezi/toolgate/internal/normalize"
)

// NewOpenAIProvider targets api.openai.com chat completions, which takes a
// flat reasoning_effort and max_completion_tokens.
func NewOpenAIProvider() *ChatProvider {
	return &ChatProvider{
		name:                "openai",
		endpoint:            "https://api.openai.com/v1/chat/completions",
		format:              normalize.ReasoningFlat,
		reasoning:           true,
		includeUsage:        true,
		maxCompletionTokens: true,
	}
}
