package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/vercade/internal/tools"
)

// ToolCaller is the part of *Client a bridged tool needs.
type ToolCaller interface {
	Name() string
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error)
}

// BridgeTools registers every tool the server advertises under its own
// name with Source "mcp:<server>". A name already taken by a built-in
// or another server returns an error wrapping tools.ErrDuplicateTool.
// It returns the number of tools registered.
func BridgeTools(ctx context.Context, client ToolCaller, registry *tools.Registry, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defs, err := client.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tools from %s: %w", client.Name(), err)
	}

	source := "mcp:" + client.Name()
	count := 0
	for _, td := range defs {
		if err := registry.Register(bridgeTool(client, source, td)); err != nil {
			return count, err
		}
		count++
		logger.Debug("bridged MCP tool", "tool", td.Name, "server", client.Name())
	}
	return count, nil
}

func bridgeTool(client ToolCaller, source string, td ToolDefinition) *tools.Tool {
	name := td.Name
	return &tools.Tool{
		Name:        name,
		Description: td.Description,
		Parameters:  td.InputSchema,
		Source:      source,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			text, isError, err := client.CallTool(ctx, name, args)
			if err != nil {
				return "", err
			}
			if isError {
				if text == "" {
					text = "tool reported an error"
				}
				return "", errors.New(text)
			}
			return text, nil
		},
	}
}
