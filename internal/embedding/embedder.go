// Package embedding produces vector embeddings for prompts and units.
package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hyperjump/shiori/internal/config"
	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// New builds the embedder selected by cfg, wrapped in an expiring LRU when cfg.CacheSize > 0.
func New(ctx context.Context, cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "mock":
		e = NewMockEmbedder(cfg.Dimensions)
	case "onnx":
		e, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case "openai":
		e, err = NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY"), cfg.BaseURL, cfg.Model, cfg.Dimensions)
	case "gemini":
		e, err = NewGeminiEmbedder(ctx, geminiAPIKey(), cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", config.ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s embedder: %w", cfg.Provider, err)
	}
	logger.Debug("Embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.Int("dimensions", e.Dimensions()))
	if cfg.CacheSize > 0 && cfg.CacheTTL > 0 {
		return NewCachedEmbedder(e, cfg.CacheSize, cfg.CacheTTL), nil
	}
	return e, nil
}

func geminiAPIKey() string {
	if k := os.Getenv("GEMINI_API_KEY"); k != "" {
		return k
	}
	return os.Getenv("GOOGLE_API_KEY")
}

func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}
