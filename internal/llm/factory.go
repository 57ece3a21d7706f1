package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hyperjump/shiori/internal/config"
	"go.uber.org/zap"
)

// NewProvider builds the bare provider selected by cfg. API keys come from the environment.
func NewProvider(ctx context.Context, cfg *config.GenerationConfig) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIGenerator(os.Getenv("OPENAI_API_KEY"), cfg.BaseURL, cfg.Model)
	case "anthropic":
		return NewAnthropicGenerator(os.Getenv("ANTHROPIC_API_KEY"), cfg.BaseURL, cfg.Model)
	case "gemini":
		key := os.Getenv("GEMINI_API_KEY")
		if key == "" {
			key = os.Getenv("GOOGLE_API_KEY")
		}
		return NewGeminiGenerator(ctx, key, cfg.Model)
	case "fake":
		return NewFakeGenerator(cfg.Model), nil
	default:
		return nil, fmt.Errorf("%w: unknown generation provider %q", config.ErrInvalidConfig, cfg.Provider)
	}
}

// New builds the provider and wraps it with retry (outermost), a per-attempt timeout and
// call logging.
func New(ctx context.Context, cfg *config.GenerationConfig, logger *zap.Logger) (Generator, error) {
	p, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return Wrap(p,
		Retry(RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Logger:      logger,
		}),
		Timeout(cfg.Timeout),
		Logging(logger),
	), nil
}
