// Package llm defines the completion capability the extraction core depends
// on, and ships a Gemini-backed implementation of it. Transport retries live
// here; the core treats any error as a provider fault.
package llm

import (
	"context"
	"errors"
)

// ErrProviderUnavailable is returned when the provider cannot be reached or
// keeps failing after retries.
var ErrProviderUnavailable = errors.New("provider_unavailable")

// Client is the minimal interface the extraction core uses to call an LLM.
// Implementations must be safe for concurrent use by many workers.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Options tune a single completion request.
type Options struct {
	Temperature float64
	MaxTokens   int
}
