package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/vercade/internal/memory"
)

// MemoryStore is the long-term memory used by remember, recall and
// forget.
type MemoryStore interface {
	Remember(ctx context.Context, content string, meta map[string]string) (string, error)
	Recall(ctx context.Context, query string, limit int) ([]memory.Recollection, error)
	Forget(ctx context.Context, id string) error
}

const defaultRecallLimit = 5

// RegisterMemoryTools adds remember, recall and forget backed by store.
func RegisterMemoryTools(r *Registry, store MemoryStore) error {
	if err := r.Register(&Tool{
		Name:        "remember",
		Description: "Save a short note to your long-term memory, such as a fact about someone or something you want to follow up on.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{"type": "string", "description": "What to remember"},
				"about":   map[string]any{"type": "string", "description": "Optional person or topic the note is about"},
			},
			"required": []string{"content"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			content, err := requireString(args, "content")
			if err != nil {
				return "", err
			}
			var meta map[string]string
			if about := stringArg(args, "about"); about != "" {
				meta = map[string]string{"about": about}
			}
			id, err := store.Remember(ctx, content, meta)
			if err != nil {
				return "", err
			}
			return "remembered (" + id + ")", nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register(&Tool{
		Name:        "recall",
		Description: "Search your long-term memory for notes related to a query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "What to look for"},
				"limit": map[string]any{"type": "integer", "description": fmt.Sprintf("Maximum results (default %d)", defaultRecallLimit)},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, err := requireString(args, "query")
			if err != nil {
				return "", err
			}
			found, err := store.Recall(ctx, query, intArg(args, "limit", defaultRecallLimit))
			if err != nil {
				return "", err
			}
			if len(found) == 0 {
				return "No memories found.", nil
			}
			var b strings.Builder
			for _, m := range found {
				date := "unknown date"
				if !m.CreatedAt.IsZero() {
					date = m.CreatedAt.Format("2006-01-02")
				}
				fmt.Fprintf(&b, "- [%s] %s", date, m.Content)
				if about := m.Metadata["about"]; about != "" {
					fmt.Fprintf(&b, " (about %s)", about)
				}
				if m.ID != "" {
					fmt.Fprintf(&b, " [id %s]", m.ID)
				}
				b.WriteString("\n")
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	}); err != nil {
		return err
	}

	return r.Register(&Tool{
		Name:        "forget",
		Description: "Delete a note from your long-term memory by the id shown by remember or recall, for example when it turned out to be wrong.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{"type": "string", "description": "The memory id"},
			},
			"required": []string{"id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id, err := requireString(args, "id")
			if err != nil {
				return "", err
			}
			if err := store.Forget(ctx, id); err != nil {
				return "", err
			}
			return "forgot " + id, nil
		},
	})
}
