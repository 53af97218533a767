package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/nugget/vercade/internal/chat"
)

type fakeListener struct {
	ready    int
	received []chat.Context
	messages []chat.Message
}

func (l *fakeListener) Ready(context.Context) { l.ready++ }

func (l *fakeListener) Receive(_ context.Context, c chat.Context, m chat.Message) {
	l.received = append(l.received, c)
	l.messages = append(l.messages, m)
}

type fakeState struct {
	guilds   map[string]*discordgo.Guild
	channels map[string]*discordgo.Channel
}

func (s fakeState) Guild(id string) (*discordgo.Guild, error) {
	if g, ok := s.guilds[id]; ok {
		return g, nil
	}
	return nil, discordgo.ErrStateNotFound
}

func (s fakeState) Channel(id string) (*discordgo.Channel, error) {
	if c, ok := s.channels[id]; ok {
		return c, nil
	}
	return nil, discordgo.ErrStateNotFound
}

func newTestClient(cfg Config) (*Client, *[]string) {
	var statuses []string
	c := &Client{
		cfg:    cfg,
		hub:    newTestHub(&fakeSession{}),
		logger: testLogger(),
		presence: func(s string) error {
			statuses = append(statuses, s)
			return nil
		},
	}
	return c, &statuses
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(Config{Name: "vercade"}); err == nil {
		t.Error("New() without a token should fail")
	}
}

func TestNew_WiresSession(t *testing.T) {
	c, err := New(Config{Token: "abc", Name: "vercade"})
	if err != nil {
		t.Fatal(err)
	}
	if c.session.Identify.Intents&discordgo.IntentsMessageContent == 0 {
		t.Error("message content intent not requested")
	}
	if c.session.Client == nil || c.session.Client.Timeout == 0 {
		t.Error("session HTTP client not replaced")
	}
	if c.Hub().Self() != "vercade" {
		t.Errorf("Self() = %q", c.Hub().Self())
	}
}

func TestOnReady(t *testing.T) {
	t.Run("matching name", func(t *testing.T) {
		c, statuses := newTestClient(Config{Name: "vercade", Activity: "with ideas"})
		l := &fakeListener{}
		if err := c.onReady(context.Background(), l, bot); err != nil {
			t.Fatal(err)
		}
		if l.ready != 1 {
			t.Errorf("listener Ready calls = %d, want 1", l.ready)
		}
		if len(*statuses) != 1 || (*statuses)[0] != "with ideas" {
			t.Errorf("presence = %v", *statuses)
		}
	})

	t.Run("no activity", func(t *testing.T) {
		c, statuses := newTestClient(Config{Name: "vercade"})
		if err := c.onReady(context.Background(), &fakeListener{}, bot); err != nil {
			t.Fatal(err)
		}
		if len(*statuses) != 0 {
			t.Errorf("presence set without an activity: %v", *statuses)
		}
	})

	t.Run("name mismatch", func(t *testing.T) {
		c, _ := newTestClient(Config{Name: "someone-else"})
		l := &fakeListener{}
		err := c.onReady(context.Background(), l, bot)
		if !errors.Is(err, ErrNameMismatch) {
			t.Errorf("onReady() = %v, want ErrNameMismatch", err)
		}
		if l.ready != 0 {
			t.Error("listener told Ready despite the mismatch")
		}
	})
}

func TestOnMessage(t *testing.T) {
	state := fakeState{
		guilds:   map[string]*discordgo.Guild{"g1": {ID: "g1", Name: "friends"}},
		channels: map[string]*discordgo.Channel{"c1": {ID: "c1", Name: "general"}},
	}

	tests := []struct {
		name string
		msg  *discordgo.Message
		want bool
	}{
		{"guild message", &discordgo.Message{ID: "1", GuildID: "g1", ChannelID: "c1", Author: bob, Content: "hi <@900>", Mentions: []*discordgo.User{bot}}, true},
		{"direct message", &discordgo.Message{ID: "2", ChannelID: "dm", Author: bob, Content: "hi"}, false},
		{"no author", &discordgo.Message{ID: "3", GuildID: "g1", ChannelID: "c1", Content: "hi"}, false},
		{"unknown channel", &discordgo.Message{ID: "4", GuildID: "g1", ChannelID: "c9", Author: bob, Content: "hi"}, false},
		{"empty content", &discordgo.Message{ID: "5", GuildID: "g1", ChannelID: "c1", Author: bob}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(Config{Name: "vercade"})
			l := &fakeListener{}
			c.onMessage(context.Background(), l, state, tt.msg)

			if got := len(l.received) == 1; got != tt.want {
				t.Fatalf("delivered = %v, want %v", got, tt.want)
			}
			if !tt.want {
				return
			}
			if l.received[0] != general {
				t.Errorf("context = %+v, want %+v", l.received[0], general)
			}
			m := l.messages[0]
			if m.Content != "hi @vercade" || !m.Mentioned("vercade") || m.Author != "bob" {
				t.Errorf("message = %+v", m)
			}
		})
	}
}
