package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/nugget/vercade/internal/chat"
	"github.com/nugget/vercade/internal/httpkit"
)

// intents are the gateway events the agent needs, including message
// content and the member list used for mentions.
const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsMessageContent

// Config configures a Client.
type Config struct {
	Token string
	// Name must equal the bot account's username.
	Name string
	// Activity, if set, is shown as the bot's "Playing" status.
	Activity string
	Logger   *slog.Logger
}

// ErrNameMismatch is returned by Start when the bot account's name is
// not the configured agent name.
var ErrNameMismatch = errors.New("agent name does not match Discord bot name")

// stateLookup resolves guilds and channels from the gateway cache.
// *discordgo.State implements it.
type stateLookup interface {
	Guild(id string) (*discordgo.Guild, error)
	Channel(id string) (*discordgo.Channel, error)
}

// Client owns the gateway connection.
type Client struct {
	cfg      Config
	session  *discordgo.Session
	hub      *Hub
	logger   *slog.Logger
	presence func(status string) error
	readyErr chan error
}

// New creates a client without connecting.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "discord")

	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = intents
	s.Client = httpkit.NewClient(
		httpkit.WithTimeout(20*time.Second),
		httpkit.WithLogger(logger),
	)

	c := &Client{
		cfg:      cfg,
		session:  s,
		hub:      newHub(gateway{s: s}, cfg.Name, logger),
		logger:   logger,
		readyErr: make(chan error, 1),
	}
	c.presence = func(status string) error { return s.UpdateGameStatus(0, status) }
	return c, nil
}

// Hub returns the chat.Hub backed by this connection.
func (c *Client) Hub() *Hub { return c.hub }

// Start opens the gateway and blocks until the first Ready event has
// been handled. Afterwards l receives Ready on every (re)connect and
// Receive for each guild message.
func (c *Client) Start(ctx context.Context, l chat.Listener) error {
	c.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		err := c.onReady(ctx, l, r.User)
		select {
		case c.readyErr <- err:
		default:
		}
	})
	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.onMessage(ctx, l, s.State, m.Message)
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	select {
	case err := <-c.readyErr:
		if err != nil {
			c.session.Close()
			return err
		}
		return nil
	case <-ctx.Done():
		c.session.Close()
		return ctx.Err()
	}
}

// Close disconnects from the gateway.
func (c *Client) Close() error {
	return c.session.Close()
}

func (c *Client) onReady(ctx context.Context, l chat.Listener, bot *discordgo.User) error {
	if bot == nil || bot.Username != c.cfg.Name {
		got := ""
		if bot != nil {
			got = bot.Username
		}
		c.logger.Error("bot name mismatch", "configured", c.cfg.Name, "bot", got)
		return fmt.Errorf("%w: configured %q, bot is %q", ErrNameMismatch, c.cfg.Name, got)
	}
	c.logger.Info("discord connected", "bot", bot.Username, "id", bot.ID)

	if c.cfg.Activity != "" {
		if err := c.presence(c.cfg.Activity); err != nil {
			c.logger.Warn("set activity failed", "activity", c.cfg.Activity, "error", err)
		}
	}

	l.Ready(ctx)
	return nil
}

// onMessage hands a guild message to l. Direct messages are ignored.
func (c *Client) onMessage(ctx context.Context, l chat.Listener, state stateLookup, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.GuildID == "" {
		return
	}

	guild, err := state.Guild(m.GuildID)
	if err != nil {
		c.logger.Debug("message from unknown guild", "guild", m.GuildID, "error", err)
		return
	}
	channel, err := state.Channel(m.ChannelID)
	if err != nil {
		c.logger.Debug("message from unknown channel", "channel", m.ChannelID, "error", err)
		return
	}

	msg, ok := c.hub.toChat(ctx, m, false)
	if !ok {
		return
	}
	conv := chat.Context{
		Server:  chat.Server{ID: guild.ID, Name: guild.Name},
		Channel: chat.Channel{ID: channel.ID, Name: channel.Name},
	}
	c.logger.Debug("message received", "conversation", conv.String(), "author", msg.Author)
	l.Receive(ctx, conv, msg)
}
