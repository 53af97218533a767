package tools

import (
	"errors"
	"fmt"
)

// ErrToolUnavailable is returned by Execute when the model calls a tool
// that is not in the registry. It means the model and the catalog
// disagree, so the reasoning loop treats it as fatal rather than
// feeding it back as a tool result.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// ErrDuplicateTool is returned by Register when a tool name is already
// taken, for example by an MCP tool shadowing a built-in.
var ErrDuplicateTool = errors.New("duplicate tool name")
