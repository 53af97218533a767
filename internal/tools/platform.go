package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/vercade/internal/chat"
)

// DefaultHistoryLimit is how many messages get_messages returns when the
// model does not ask for a specific number.
const DefaultHistoryLimit = 50

// reactSearchLimit bounds how far back react looks for its target.
const reactSearchLimit = 50

// RegisterPlatformTools adds the chat tools backed by hub: listing
// servers and channels, reading history, sending, and reacting.
func RegisterPlatformTools(r *Registry, hub chat.Hub) error {
	p := &platformTools{hub: hub}
	serverProp := map[string]any{"type": "string", "description": "Server name"}
	channelProp := map[string]any{"type": "string", "description": "Channel name, without the leading #"}

	defs := []*Tool{
		{
			Name:        "list_servers",
			Description: "Return the list of servers you have access to.",
			Handler:     p.listServers,
		},
		{
			Name:        "list_channels",
			Description: "Return the list of channel names in a server.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"server": serverProp},
				"required":   []string{"server"},
			},
			Handler: p.listChannels,
		},
		{
			Name:        "get_messages",
			Description: "Return recent messages from a channel, oldest first. Use this to see what people said.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"server":  serverProp,
					"channel": channelProp,
					"limit": map[string]any{
						"type":        "integer",
						"description": fmt.Sprintf("Maximum number of messages (default %d)", DefaultHistoryLimit),
					},
				},
				"required": []string{"server", "channel"},
			},
			Handler: p.getMessages,
		},
		{
			Name:        "send_message",
			Description: "Send a message to a channel. This is the only way people can see what you say. Mention people as @name.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"server":  serverProp,
					"channel": channelProp,
					"content": map[string]any{"type": "string", "description": "Message text"},
				},
				"required": []string{"server", "channel", "content"},
			},
			Handler: p.sendMessage,
		},
		{
			Name:        "react",
			Description: "React to a message with an emoji. Identify the message by its exact content.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"server":          serverProp,
					"channel":         channelProp,
					"message_content": map[string]any{"type": "string", "description": "Exact content of the message to react to"},
					"emoji":           map[string]any{"type": "string", "description": "Unicode emoji or custom emoji name"},
				},
				"required": []string{"server", "channel", "message_content", "emoji"},
			},
			Handler: p.react,
		},
	}

	for _, t := range defs {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type platformTools struct {
	hub chat.Hub
}

func (p *platformTools) resolve(ctx context.Context, args map[string]any) (chat.Context, error) {
	server, err := requireString(args, "server")
	if err != nil {
		return chat.Context{}, err
	}
	channel, err := requireString(args, "channel")
	if err != nil {
		return chat.Context{}, err
	}
	return chat.Resolve(ctx, p.hub, server, channel)
}

func (p *platformTools) listServers(ctx context.Context, _ map[string]any) (string, error) {
	servers, err := p.hub.Servers(ctx)
	if err != nil {
		return "", err
	}
	names := make([]string, len(servers))
	for i, s := range servers {
		names[i] = s.Name
	}
	return strings.Join(names, "\n"), nil
}

func (p *platformTools) listChannels(ctx context.Context, args map[string]any) (string, error) {
	name, err := requireString(args, "server")
	if err != nil {
		return "", err
	}
	servers, err := p.hub.Servers(ctx)
	if err != nil {
		return "", err
	}
	for _, s := range servers {
		if strings.EqualFold(s.Name, name) {
			channels, err := p.hub.Channels(ctx, s)
			if err != nil {
				return "", err
			}
			names := make([]string, len(channels))
			for i, c := range channels {
				names[i] = c.Name
			}
			return strings.Join(names, "\n"), nil
		}
	}
	return "", fmt.Errorf("server %q: %w", name, chat.ErrNotFound)
}

func (p *platformTools) getMessages(ctx context.Context, args map[string]any) (string, error) {
	c, err := p.resolve(ctx, args)
	if err != nil {
		return "", err
	}
	limit := intArg(args, "limit", DefaultHistoryLimit)
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	msgs, err := p.hub.Messages(ctx, c, limit)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "(no messages)", nil
	}
	return Transcript(msgs), nil
}

func (p *platformTools) sendMessage(ctx context.Context, args map[string]any) (string, error) {
	c, err := p.resolve(ctx, args)
	if err != nil {
		return "", err
	}
	m, err := chat.NewMessage(stringArg(args, "content"), p.hub.Self())
	if err != nil {
		return "", err
	}
	if err := p.hub.Send(ctx, c, m); err != nil {
		return "", err
	}
	return "ok", nil
}

func (p *platformTools) react(ctx context.Context, args map[string]any) (string, error) {
	c, err := p.resolve(ctx, args)
	if err != nil {
		return "", err
	}
	target, err := requireString(args, "message_content")
	if err != nil {
		return "", err
	}
	emoji, err := requireString(args, "emoji")
	if err != nil {
		return "", err
	}

	msgs, err := p.hub.Messages(ctx, c, reactSearchLimit)
	if err != nil {
		return "", err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.TrimSpace(msgs[i].Content) == target {
			if err := p.hub.React(ctx, c, msgs[i], emoji); err != nil {
				return "", err
			}
			return "ok", nil
		}
	}
	return "", errors.New("message not found")
}

// Transcript renders messages for the model, one block per message,
// with reactions and embeds on their own lines.
func Transcript(msgs []chat.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s: %s", m.CreatedAt.UTC().Format("2006-01-02 15:04"), m.Author, m.Content)
		for _, r := range m.Reactions {
			fmt.Fprintf(&b, "\n  reaction %s by %s", r.Emoji, strings.Join(r.Users, ", "))
		}
		for _, e := range m.Embeds {
			fmt.Fprintf(&b, "\n  embed %s", e.URL)
		}
	}
	return b.String()
}
