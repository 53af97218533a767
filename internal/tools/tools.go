// Package tools is the agent's tool catalog: built-in capabilities and
// tools discovered from MCP servers, merged into one registry that the
// reasoning loop reads schemas from and dispatches calls through.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nugget/vercade/internal/llm"
)

// Handler runs a tool. args are already normalized by ParseArguments.
// A returned error is reported to the model as text, never to the loop.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is one callable capability.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	// Source is "builtin" or "mcp:<server>".
	Source  string  `json:"source"`
	Handler Handler `json:"-"`
}

// Registry holds the tool catalog.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds t. A name collision returns ErrDuplicateTool.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool %q: name and handler are required", t.Name)
	}
	if t.Parameters == nil {
		t.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if t.Source == "" {
		t.Source = "builtin"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("%w: %q from %s collides with %s", ErrDuplicateTool, t.Name, t.Source, existing.Source)
	}
	r.tools[t.Name] = t
	return nil
}

// Get returns the named tool or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// List returns every tool sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every tool name, sorted.
func (r *Registry) Names() []string {
	list := r.List()
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = t.Name
	}
	return out
}

// Schemas returns the tool descriptions sent to the model, sorted by
// name so the snapshot is stable.
func (r *Registry) Schemas() []llm.ToolSchema {
	list := r.List()
	out := make([]llm.ToolSchema, len(list))
	for i, t := range list {
		out[i] = llm.ToolSchema{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return out
}

// Execute runs the named tool with raw model arguments. An unknown name
// returns *ErrToolUnavailable. Everything that goes wrong inside the
// tool, including a panic, comes back as result text with a nil error.
func (r *Registry) Execute(ctx context.Context, name, rawArgs string) (result string, err error) {
	t := r.Get(name)
	if t == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", p)
			result = ErrorResult(name, fmt.Errorf("panic: %v", p))
			err = nil
		}
	}()

	out, herr := t.Handler(ctx, ParseArguments(rawArgs))
	if herr != nil {
		r.logger.Warn("tool failed", "tool", name, "error", herr)
		return ErrorResult(name, herr), nil
	}
	return out, nil
}

// ErrorResult formats a tool failure for the model.
func ErrorResult(name string, err error) string {
	return fmt.Sprintf("Error calling tool %s: %v", name, err)
}
