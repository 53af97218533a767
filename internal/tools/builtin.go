package tools

import (
	"context"
	"time"
)

// RegisterBuiltins adds tools that need no external collaborator. now
// may be nil to use the wall clock.
func RegisterBuiltins(r *Registry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	return r.Register(&Tool{
		Name:        "current_time",
		Description: "Return the current date and time in UTC, optionally also in an IANA time zone.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "Optional IANA time zone name, e.g. Europe/Berlin",
				},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			t := now().UTC()
			out := t.Format("2006-01-02 15:04:05 MST")
			if tz := stringArg(args, "timezone"); tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return "", err
				}
				out += "\n" + t.In(loc).Format("2006-01-02 15:04:05 MST")
			}
			return out, nil
		},
	})
}
