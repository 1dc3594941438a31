package providers

import (
	"github.com/mihaisavezi/toolgate/internal/normalize"
)

// NewNvidiaProvider targets NVIDIA NIM, which rejects reasoning controls.
func NewNvidiaProvider() *ChatProvider {
	return &ChatProvider{
		name:     "nvidia",
		endpoint: "https://integrate.api.nvidia.com/v1/chat/completions",
		format:   normalize.ReasoningNone,
	}
}
