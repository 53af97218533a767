package agent

import "context"

// Origin describes why an invocation is running. It travels in the
// context so the loop can label its events and usage rows.
type Origin struct {
	// Trigger is usage.TriggerMessage, TriggerIdle or TriggerFollowUp.
	Trigger string
	// Conversation is the chat.Context label, empty for idle runs.
	Conversation string
}

type originKey struct{}

// WithOrigin returns ctx carrying o.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the Origin stored in ctx, or the zero value.
func OriginFrom(ctx context.Context) Origin {
	o, _ := ctx.Value(originKey{}).(Origin)
	return o
}
