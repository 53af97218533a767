package llm

import "context"

// Client is implemented by every provider.
type Client interface {
	// Chat runs one completion round. tools may be empty.
	Chat(ctx context.Context, model string, messages []Message, tools []ToolSchema, opts Options) (*ChatResponse, error)

	// Ping checks that the provider is reachable and authenticated.
	Ping(ctx context.Context) error
}
