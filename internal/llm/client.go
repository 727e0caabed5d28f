// Package llm provides language model client implementations.
package llm

import "context"

// Client is the interface that all model providers must implement.
type Client interface {
	// Chat sends one request carrying the full message context and the
	// advertised tools, and returns the model's next step.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
