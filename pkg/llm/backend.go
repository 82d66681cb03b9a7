package llm

import "context"

// Backend defines the interface for a loaded inference model.
// Implementations handle protocol-specific details such as prompt framing,
// request formatting, and response parsing.
type Backend interface {
	// Generate runs one completion over the given messages. The call is
	// synchronous and blocks for the full duration of generation.
	Generate(ctx context.Context, messages []Message, config *GenerationConfig) (*Result, error)

	// Close releases the model so the server can reclaim its memory.
	Close() error
}

// Config holds common configuration for inference server clients.
type Config struct {
	BaseURL string
	APIKey  string
}
