package discord

import (
	"context"
	"slices"

	"github.com/bwmarrin/discordgo"
)

// session is the slice of the Discord REST API the hub uses.
type session interface {
	Guilds() []*discordgo.Guild
	Guild(id string) (*discordgo.Guild, error)
	GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error)
	GuildMembers(ctx context.Context, guildID string) ([]*discordgo.Member, error)
	ChannelMessages(ctx context.Context, channelID string, limit int, beforeID string) ([]*discordgo.Message, error)
	ChannelMessageSend(ctx context.Context, channelID, content string) (*discordgo.Message, error)
	ChannelTyping(ctx context.Context, channelID string) error
	MessageReactionAdd(ctx context.Context, channelID, messageID, emojiID string) error
	MessageReactions(ctx context.Context, channelID, messageID, emojiID string) ([]*discordgo.User, error)
}

// memberPage is the largest page the members endpoint returns.
const memberPage = 1000

// gateway adapts a *discordgo.Session to session, reading guilds from
// the state cache and passing ctx to every REST call.
type gateway struct {
	s *discordgo.Session
}

func (g gateway) Guilds() []*discordgo.Guild {
	g.s.State.RLock()
	defer g.s.State.RUnlock()
	return slices.Clone(g.s.State.Guilds)
}

func (g gateway) Guild(id string) (*discordgo.Guild, error) {
	return g.s.State.Guild(id)
}

func (g gateway) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	return g.s.GuildChannels(guildID, discordgo.WithContext(ctx))
}

func (g gateway) GuildMembers(ctx context.Context, guildID string) ([]*discordgo.Member, error) {
	var all []*discordgo.Member
	after := ""
	for {
		page, err := g.s.GuildMembers(guildID, after, memberPage, discordgo.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < memberPage {
			return all, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (g gateway) ChannelMessages(ctx context.Context, channelID string, limit int, beforeID string) ([]*discordgo.Message, error) {
	return g.s.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
}

func (g gateway) ChannelMessageSend(ctx context.Context, channelID, content string) (*discordgo.Message, error) {
	return g.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
}

func (g gateway) ChannelTyping(ctx context.Context, channelID string) error {
	return g.s.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

func (g gateway) MessageReactionAdd(ctx context.Context, channelID, messageID, emojiID string) error {
	return g.s.MessageReactionAdd(channelID, messageID, emojiID, discordgo.WithContext(ctx))
}

func (g gateway) MessageReactions(ctx context.Context, channelID, messageID, emojiID string) ([]*discordgo.User, error) {
	return g.s.MessageReactions(channelID, messageID, emojiID, 100, "", "", discordgo.WithContext(ctx))
}
