// Package llm defines the prompt-completion collaborator consumed by the
// retrieval pipeline and the answer endpoints.
package llm

import "context"

// Options tune a single generation call.
type Options struct {
	// Temperature for sampling. Zero is deterministic.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the server default.
	MaxTokens int

	// ContextWindow is the model context size to request.
	ContextWindow int

	// KeepAlive asks the backend to keep the model loaded (e.g. "5m").
	KeepAlive string
}

// Generator produces completions for a prompt.
type Generator interface {
	// Generate returns the full completion for prompt.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)

	// Stream invokes fn with each incremental text fragment as it arrives.
	// A non-nil error from fn aborts the stream and is returned.
	Stream(ctx context.Context, prompt string, opts Options, fn func(fragment string) error) error
}
