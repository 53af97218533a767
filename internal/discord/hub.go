// Package discord connects the agent to Discord. [Hub] implements
// chat.Hub over the REST API and [Client] owns the gateway connection,
// delivering Ready and incoming messages to a chat.Listener.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/nugget/vercade/internal/chat"
)

// pageSize is the most messages the history endpoint returns per call.
const pageSize = 100

// DefaultTypingRate is how many characters per second the agent
// appears to type before a message is sent.
const DefaultTypingRate = 20.0

// maxTypingPause caps the pause before a long message.
const maxTypingPause = 30 * time.Second

// Hub implements chat.Hub for Discord.
type Hub struct {
	s      session
	self   string
	logger *slog.Logger

	// TypingRate is characters per second of simulated typing before
	// each send. Zero sends immediately.
	TypingRate float64

	sleep func(ctx context.Context, d time.Duration) error
}

func newHub(s session, self string, logger *slog.Logger) *Hub {
	return &Hub{
		s:          s,
		self:       self,
		logger:     logger,
		TypingRate: DefaultTypingRate,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Self implements chat.Hub.
func (h *Hub) Self() string { return h.self }

// Servers implements chat.Hub. It lists the guilds in the gateway's
// state cache.
func (h *Hub) Servers(context.Context) ([]chat.Server, error) {
	guilds := h.s.Guilds()
	out := make([]chat.Server, 0, len(guilds))
	for _, g := range guilds {
		out = append(out, chat.Server{ID: g.ID, Name: g.Name})
	}
	return out, nil
}

// Channels implements chat.Hub. Only text channels are listed.
func (h *Hub) Channels(ctx context.Context, s chat.Server) ([]chat.Channel, error) {
	channels, err := h.s.GuildChannels(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("list channels of %s: %w", s.Name, err)
	}
	var out []chat.Channel
	for _, c := range channels {
		if c.Type == discordgo.ChannelTypeGuildText {
			out = append(out, chat.Channel{ID: c.ID, Name: c.Name})
		}
	}
	return out, nil
}

// Messages implements chat.Hub. History is fetched newest first in
// pages and returned oldest first. A limit of zero or less fetches one
// page.
func (h *Hub) Messages(ctx context.Context, c chat.Context, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = pageSize
	}

	var raw []*discordgo.Message
	before := ""
	for len(raw) < limit {
		page, err := h.s.ChannelMessages(ctx, c.Channel.ID, min(pageSize, limit-len(raw)), before)
		if err != nil {
			return nil, fmt.Errorf("fetch history of %s: %w", c, err)
		}
		raw = append(raw, page...)
		if len(page) < pageSize {
			break
		}
		before = page[len(page)-1].ID
	}

	out := make([]chat.Message, 0, len(raw))
	for _, m := range raw {
		if msg, ok := h.toChat(ctx, m, true); ok {
			out = append(out, msg)
		}
	}
	slices.Reverse(out)
	return out, nil
}

// Send implements chat.Hub. Mentions of guild members are turned into
// Discord mentions, the typing indicator runs for a pause proportional
// to the length, and content over Discord's limit goes out in several
// messages.
func (h *Hub) Send(ctx context.Context, c chat.Context, m chat.Message) error {
	content := m.Content
	if len(chat.ParseMentions(content)) > 0 {
		members, err := h.s.GuildMembers(ctx, c.Server.ID)
		if err != nil {
			h.logger.Warn("list members for mentions failed", "server", c.Server.Name, "error", err)
		} else {
			content = formatMentions(content, members)
		}
	}

	if h.TypingRate > 0 {
		if err := h.s.ChannelTyping(ctx, c.Channel.ID); err != nil {
			h.logger.Debug("typing indicator failed", "conversation", c.String(), "error", err)
		}
		pause := time.Duration(float64(len(m.Content)) / h.TypingRate * float64(time.Second))
		if err := h.sleep(ctx, min(pause, maxTypingPause)); err != nil {
			return err
		}
	}

	for _, part := range splitMessage(content, maxMessageLength) {
		if _, err := h.s.ChannelMessageSend(ctx, c.Channel.ID, part); err != nil {
			return fmt.Errorf("send to %s: %w", c, err)
		}
	}
	h.logger.Debug("message sent", "conversation", c.String(), "length", len(content))
	return nil
}

// ErrMessageNotFound is returned by React when the target message is
// not in recent history.
var ErrMessageNotFound = errors.New("message not found")

// React implements chat.Hub. The message is addressed by ID, or by
// content when it has none. A custom guild emoji is used when its name
// matches; otherwise emoji is sent as a unicode emoji.
func (h *Hub) React(ctx context.Context, c chat.Context, m chat.Message, emoji string) error {
	id := m.ID
	if id == "" {
		raw, err := h.s.ChannelMessages(ctx, c.Channel.ID, pageSize, "")
		if err != nil {
			return fmt.Errorf("fetch history of %s: %w", c, err)
		}
		for _, dm := range raw {
			if plainContent(dm) == m.Content {
				id = dm.ID
				break
			}
		}
		if id == "" {
			return ErrMessageNotFound
		}
	}

	if err := h.s.MessageReactionAdd(ctx, c.Channel.ID, id, h.emojiID(c.Server.ID, emoji)); err != nil {
		return fmt.Errorf("react in %s: %w", c, err)
	}
	return nil
}

func (h *Hub) emojiID(guildID, name string) string {
	g, err := h.s.Guild(guildID)
	if err != nil {
		return name
	}
	bare := strings.Trim(name, ":")
	for _, e := range g.Emojis {
		if e.Name == bare {
			return e.APIName()
		}
	}
	return name
}
