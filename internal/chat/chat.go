// Package chat is the platform-neutral view of a chat service: servers,
// channels, messages, and the two interfaces that connect a platform
// adapter to the scheduler.
package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ConversationKey identifies one channel on one server by ID. It is the
// unit of single-flight scheduling.
type ConversationKey struct {
	ServerID  string
	ChannelID string
}

func (k ConversationKey) String() string {
	return k.ServerID + "/" + k.ChannelID
}

// Server is a guild or workspace.
type Server struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Channel is a text channel within a server.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Context locates a conversation.
type Context struct {
	Server  Server
	Channel Channel
}

// Key returns the scheduling key for c.
func (c Context) Key() ConversationKey {
	return ConversationKey{ServerID: c.Server.ID, ChannelID: c.Channel.ID}
}

func (c Context) String() string {
	return fmt.Sprintf("%s/#%s", c.Server.Name, c.Channel.Name)
}

// Reaction is one emoji and the users who reacted with it.
type Reaction struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
}

// Embed is an attachment or link preview.
type Embed struct {
	URL string `json:"url"`
}

// ErrEmptyContent is returned by NewMessage for blank content.
var ErrEmptyContent = errors.New("message content must not be empty")

// Message is a chat message. Construct it with NewMessage; a Message
// obtained that way always has non-empty Content.
type Message struct {
	// ID is the platform's message identifier, empty for outgoing
	// messages that have not been sent yet.
	ID        string     `json:"id,omitempty"`
	Content   string     `json:"content"`
	Author    string     `json:"author"`
	CreatedAt time.Time  `json:"created_at"`
	Mentions  []string   `json:"mentions,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
	Embeds    []Embed    `json:"embeds,omitempty"`
}

// MessageOption sets optional Message fields.
type MessageOption func(*Message)

// WithID sets the platform message ID.
func WithID(id string) MessageOption { return func(m *Message) { m.ID = id } }

// WithCreatedAt sets the creation time; NewMessage defaults to now.
func WithCreatedAt(t time.Time) MessageOption { return func(m *Message) { m.CreatedAt = t } }

// WithReactions attaches reactions.
func WithReactions(r ...Reaction) MessageOption {
	return func(m *Message) { m.Reactions = append(m.Reactions, r...) }
}

// WithEmbeds attaches embeds.
func WithEmbeds(e ...Embed) MessageOption {
	return func(m *Message) { m.Embeds = append(m.Embeds, e...) }
}

// NewMessage builds a message and derives its mentions from content.
func NewMessage(content, author string, opts ...MessageOption) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrEmptyContent
	}
	m := Message{
		Content:   content,
		Author:    author,
		CreatedAt: time.Now().UTC(),
		Mentions:  ParseMentions(content),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m, nil
}

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ParseMentions returns the @name identities in text in order of first
// appearance.
func ParseMentions(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Mentioned reports whether name is among m's mentions.
func (m Message) Mentioned(name string) bool {
	for _, n := range m.Mentions {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

func (m Message) String() string {
	return m.Author + ": " + m.Content
}

// Hub is what the scheduler and the platform tools need from a chat
// platform. Messages returns history oldest first.
type Hub interface {
	// Self is the agent's own account name on the platform.
	Self() string
	Servers(ctx context.Context) ([]Server, error)
	Channels(ctx context.Context, server Server) ([]Channel, error)
	Messages(ctx context.Context, c Context, limit int) ([]Message, error)
	Send(ctx context.Context, c Context, m Message) error
	React(ctx context.Context, c Context, m Message, emoji string) error
}

// Listener receives platform events. The platform calls Ready once its
// connection is established and Receive for each incoming message.
type Listener interface {
	Ready(ctx context.Context)
	Receive(ctx context.Context, c Context, m Message)
}

// ErrNotFound is returned by Resolve when a server or channel name does
// not match anything the hub can see.
var ErrNotFound = errors.New("not found")

// Resolve finds the conversation with the given server and channel
// names. Names match case-insensitively and a leading '#' on the
// channel is ignored.
func Resolve(ctx context.Context, hub Hub, serverName, channelName string) (Context, error) {
	servers, err := hub.Servers(ctx)
	if err != nil {
		return Context{}, fmt.Errorf("list servers: %w", err)
	}
	var server *Server
	for i := range servers {
		if strings.EqualFold(servers[i].Name, serverName) || servers[i].ID == serverName {
			server = &servers[i]
			break
		}
	}
	if server == nil {
		return Context{}, fmt.Errorf("server %q: %w", serverName, ErrNotFound)
	}

	channels, err := hub.Channels(ctx, *server)
	if err != nil {
		return Context{}, fmt.Errorf("list channels of %s: %w", server.Name, err)
	}
	name := strings.TrimPrefix(channelName, "#")
	for _, ch := range channels {
		if strings.EqualFold(ch.Name, name) || ch.ID == name {
			return Context{Server: *server, Channel: ch}, nil
		}
	}
	return Context{}, fmt.Errorf("channel %q on %s: %w", channelName, server.Name, ErrNotFound)
}
