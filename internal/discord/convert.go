package discord

import (
	"context"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/nugget/vercade/internal/chat"
)

// maxMessageLength is Discord's limit on message content.
const maxMessageLength = 2000

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// plainContent renders a Discord message as text: <@id> mentions
// become @username and attachments are appended as links.
func plainContent(m *discordgo.Message) string {
	content := m.ContentWithMentionsReplaced()
	for _, a := range m.Attachments {
		line := "[attachment: " + a.URL + "]"
		if content == "" {
			content = line
		} else {
			content += "\n" + line
		}
	}
	return content
}

// toChat converts a Discord message. It reports false for messages
// with nothing to show, such as bare system notices. Reactions are
// fetched only when withReactions is set.
func (h *Hub) toChat(ctx context.Context, m *discordgo.Message, withReactions bool) (chat.Message, bool) {
	if m == nil || m.Author == nil {
		return chat.Message{}, false
	}

	opts := []chat.MessageOption{
		chat.WithID(m.ID),
		chat.WithCreatedAt(m.Timestamp),
	}
	for _, e := range m.Embeds {
		if e.URL != "" {
			opts = append(opts, chat.WithEmbeds(chat.Embed{URL: e.URL}))
		}
	}
	if withReactions {
		for _, r := range m.Reactions {
			if r.Emoji == nil {
				continue
			}
			opts = append(opts, chat.WithReactions(h.reaction(ctx, m, r.Emoji)))
		}
	}

	msg, err := chat.NewMessage(plainContent(m), m.Author.Username, opts...)
	if err != nil {
		return chat.Message{}, false
	}
	return msg, true
}

func (h *Hub) reaction(ctx context.Context, m *discordgo.Message, e *discordgo.Emoji) chat.Reaction {
	r := chat.Reaction{Emoji: e.Name}
	users, err := h.s.MessageReactions(ctx, m.ChannelID, m.ID, e.APIName())
	if err != nil {
		h.logger.Debug("fetch reaction users failed", "message", m.ID, "emoji", e.Name, "error", err)
		return r
	}
	for _, u := range users {
		r.Users = append(r.Users, u.Username)
	}
	return r
}

// formatMentions rewrites @username as a Discord <@id> mention for
// every member of the guild it can match. Unknown names stay as text.
func formatMentions(content string, members []*discordgo.Member) string {
	ids := make(map[string]string, len(members))
	for _, m := range members {
		if m.User != nil {
			ids[strings.ToLower(m.User.Username)] = m.User.ID
		}
	}
	return mentionPattern.ReplaceAllStringFunc(content, func(match string) string {
		if id, ok := ids[strings.ToLower(match[1:])]; ok {
			return "<@" + id + ">"
		}
		return match
	})
}

// splitMessage breaks content into pieces no longer than limit bytes,
// preferring line breaks, then spaces.
func splitMessage(content string, limit int) []string {
	var parts []string
	for len(content) > limit {
		cut := strings.LastIndex(content[:limit], "\n")
		if cut <= 0 {
			cut = strings.LastIndex(content[:limit], " ")
		}
		if cut <= 0 {
			cut = limit
			// Do not split a UTF-8 sequence.
			for cut > 0 && !isRuneStart(content[cut]) {
				cut--
			}
		}
		parts = append(parts, strings.TrimRight(content[:cut], " \n"))
		content = strings.TrimLeft(content[cut:], " \n")
	}
	if content != "" {
		parts = append(parts, content)
	}
	return parts
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
