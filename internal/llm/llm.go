// Package llm calls text generation providers behind a small Generator interface and composes
// cross-cutting behavior (retry, timeouts, logging) as middleware.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when a provider cannot be used, for example without an API key.
var ErrUnavailable = errors.New("generation provider unavailable")

// Request is one generation call.
type Request struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	// Model overrides the generator's default model when set.
	Model string
	// ExactOnly tells caching middleware to skip near-match lookups.
	ExactOnly bool
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	// Name identifies the provider, e.g. "openai".
	Name() string
	// Model is the default model used when Request.Model is empty.
	Model() string
}

// ModelFor returns the model a request will run against.
func ModelFor(g Generator, req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return g.Model()
}

// PermanentError marks an error that will not resolve with retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err as non-retryable.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked non-retryable.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
