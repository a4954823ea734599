package llm

import "context"

// Provider defines the interface for the external model-invocation and
// summarization collaborators. Implementations handle protocol-specific
// details such as request formatting, authentication, and response parsing.
//
// Failures are classified with the core error taxonomy: transient upstream
// trouble wraps types.ErrUpstream (retryable), rejected payloads wrap
// types.ErrInvalidRequest (not retryable).
type Provider interface {
	// Generate sends the assembled context package and returns the model's
	// response together with usage and latency metadata.
	Generate(ctx context.Context, messages []Message) (*Response, error)

	// Summarize condenses newMessages into an updated running summary.
	// priorSummary is empty on the first summarization of a session.
	Summarize(ctx context.Context, priorSummary string, newMessages []Message) (string, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}
