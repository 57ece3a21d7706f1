package gencache

import (
	"context"

	"github.com/hyperjump/shiori/internal/llm"
)

// Middleware puts the cache in front of next. Place it outside llm.Retry so that each call does
// one lookup and retries only apply to the provider call on a miss. A nil cache is a no-op.
func Middleware(c *Cache) llm.Middleware {
	return func(next llm.Generator) llm.Generator {
		if c == nil {
			return next
		}
		return &cachingGenerator{next: next, cache: c}
	}
}

type cachingGenerator struct {
	next  llm.Generator
	cache *Cache
}

func (g *cachingGenerator) Name() string  { return g.next.Name() }
func (g *cachingGenerator) Model() string { return g.next.Model() }

func (g *cachingGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	model := llm.ModelFor(g.next, req)
	lookup := g.cache.Get
	if req.ExactOnly {
		lookup = g.cache.GetExact
	}
	if resp, ok := lookup(ctx, req.Prompt, req.SystemPrompt, req.Temperature, model); ok {
		return resp, nil
	}
	resp, err := g.next.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	g.cache.Set(ctx, req.Prompt, resp, req.SystemPrompt, req.Temperature, model, 0)
	return resp, nil
}
