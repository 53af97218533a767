package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseArguments normalizes raw tool arguments from the model. A JSON
// object decodes to a map; blank input is an empty map; anything else
// (plain text, a JSON string, an array, a number) becomes
// {"content": <text>}.
func ParseArguments(raw string) map[string]any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		switch val := v.(type) {
		case map[string]any:
			return val
		case string:
			return map[string]any{"content": val}
		}
	}
	return map[string]any{"content": raw}
}

// stringArg returns args[key] as a trimmed string.
func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// requireString returns args[key] or an error naming the missing field.
func requireString(args map[string]any, key string) (string, error) {
	s := stringArg(args, key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// intArg returns args[key] as an int, accepting JSON numbers and
// numeric strings, or def when absent or invalid.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
