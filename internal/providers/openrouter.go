package providers

import (
	"github.com/mihaisavezi/toolgate/internal/normalize"
)

// NewOpenRouterProvider uses the nested reasoning object and streams
// reasoning_details that must be replayed on follow-up rounds.
func NewOpenRouterProvider() *ChatProvider {
	return &ChatProvider{
		name:         "openrouter",
		endpoint:     "https://openrouter.ai/api/v1/chat/completions",
		format:       normalize.ReasoningNested,
		reasoning:    true,
		includeUsage: true,
	}
}
