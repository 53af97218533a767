package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultProvider receives model names without a "provider/" prefix.
const DefaultProvider = "openai"

// MultiClient routes "provider/model" names to the registered provider
// and strips the prefix before calling it.
type MultiClient struct {
	clients map[string]Client
}

// NewMultiClient returns an empty router.
func NewMultiClient() *MultiClient {
	return &MultiClient{clients: make(map[string]Client)}
}

// AddProvider registers client under name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// Providers lists registered provider names.
func (m *MultiClient) Providers() []string {
	names := make([]string, 0, len(m.clients))
	for n := range m.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SplitModel separates "provider/model" into its parts. Only the first
// slash splits, so "ollama/library/qwen3" keeps "library/qwen3".
func SplitModel(model string) (provider, name string) {
	if p, n, ok := strings.Cut(model, "/"); ok && p != "" {
		return p, n
	}
	return DefaultProvider, model
}

// Resolve returns the client and bare model name for model.
func (m *MultiClient) Resolve(model string) (Client, string, error) {
	provider, name := SplitModel(model)
	client, ok := m.clients[provider]
	if !ok {
		return nil, "", fmt.Errorf("no provider %q configured for model %q (have %v)", provider, model, m.Providers())
	}
	return client, name, nil
}

// Chat routes to the provider named by model.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolSchema, opts Options) (*ChatResponse, error) {
	client, name, err := m.Resolve(model)
	if err != nil {
		return nil, err
	}
	return client.Chat(ctx, name, messages, tools, opts)
}

// Ping pings every provider and joins the failures.
func (m *MultiClient) Ping(ctx context.Context) error {
	var errs []error
	for _, name := range m.Providers() {
		if err := m.clients[name].Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
