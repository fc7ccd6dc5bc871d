package gateway

import (
	"context"
	"fmt"
)

// NewFromConfig selects and constructs the Backend for cfg.Provider,
// wrapping it in a Gateway. Grounded on internal/llm/client.go's
// Provider-switch constructor.
func NewFromConfig(ctx context.Context, cfg Config) (*Gateway, error) {
	var backend Backend
	switch cfg.Provider {
	case ProviderOpenAI, "":
		backend = NewOpenAIBackend(cfg)
	case ProviderAnthropic:
		backend = NewAnthropicBackend(cfg)
	case ProviderGemini:
		b, err := NewGeminiBackend(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("gateway: unknown provider %q", cfg.Provider)
	}
	return New(cfg, backend), nil
}
