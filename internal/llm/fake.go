package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/shiori/internal/contenthash"
)

// FakeGenerator answers deterministically without a network call and counts invocations.
// Respond, when set, replaces the default answer.
type FakeGenerator struct {
	Respond func(n int, req Request) (string, error)

	mu       sync.Mutex
	model    string
	calls    int
	requests []Request
}

// NewFakeGenerator returns a fake generator reporting model.
func NewFakeGenerator(model string) *FakeGenerator {
	if model == "" {
		model = "fake"
	}
	return &FakeGenerator{model: model}
}

func (f *FakeGenerator) Name() string  { return "fake" }
func (f *FakeGenerator) Model() string { return f.model }

// Generate records the request and returns a Markdown stub derived from the prompt.
func (f *FakeGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.requests = append(f.requests, req)
	respond := f.Respond
	f.mu.Unlock()
	if respond != nil {
		return respond(n, req)
	}
	return fmt.Sprintf("# Generated page\n\nPrompt digest `%s`.\n", contenthash.Prompt(req.SystemPrompt, req.Prompt)[:12]), nil
}

// Calls returns the number of Generate invocations.
func (f *FakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Requests returns a copy of the recorded requests.
func (f *FakeGenerator) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}
