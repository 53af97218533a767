// Package chattest provides an in-memory chat.Hub for tests.
package chattest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nugget/vercade/internal/chat"
)

// Sent records one Send call.
type Sent struct {
	Context chat.Context
	Message chat.Message
}

// Reacted records one React call.
type Reacted struct {
	Context chat.Context
	Message chat.Message
	Emoji   string
}

// Hub is an in-memory chat.Hub. Channels and history are seeded with
// Add and Post; sends are appended to the channel history as well as
// recorded.
type Hub struct {
	SelfName string

	// SendHook, if set, runs inside Send before the message is stored.
	// Returning an error fails the send.
	SendHook func(ctx context.Context, c chat.Context, m chat.Message) error

	mu       sync.Mutex
	servers  []chat.Server
	channels map[string][]chat.Channel
	history  map[chat.ConversationKey][]chat.Message
	sent     []Sent
	reacted  []Reacted
	seq      int
}

// NewHub returns an empty hub whose own account is self.
func NewHub(self string) *Hub {
	return &Hub{
		SelfName: self,
		channels: make(map[string][]chat.Channel),
		history:  make(map[chat.ConversationKey][]chat.Message),
	}
}

// Add registers a server and channel by name, using the names as IDs,
// and returns the resulting context.
func (h *Hub) Add(server, channel string) chat.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := chat.Server{ID: server, Name: server}
	found := false
	for _, existing := range h.servers {
		if existing.ID == s.ID {
			found = true
			break
		}
	}
	if !found {
		h.servers = append(h.servers, s)
	}
	c := chat.Channel{ID: channel, Name: channel}
	h.channels[s.ID] = append(h.channels[s.ID], c)
	return chat.Context{Server: s, Channel: c}
}

// Post appends a message from author to the channel history and returns
// it, as the platform would before delivering it to a listener.
func (h *Hub) Post(c chat.Context, author, content string) chat.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.appendLocked(c, author, content)
}

func (h *Hub) appendLocked(c chat.Context, author, content string) chat.Message {
	h.seq++
	m, err := chat.NewMessage(content, author,
		chat.WithID(fmt.Sprintf("m%d", h.seq)),
		chat.WithCreatedAt(time.Unix(int64(h.seq), 0).UTC()),
	)
	if err != nil {
		panic(err)
	}
	h.history[c.Key()] = append(h.history[c.Key()], m)
	return m
}

// Self implements chat.Hub.
func (h *Hub) Self() string { return h.SelfName }

// Servers implements chat.Hub.
func (h *Hub) Servers(context.Context) ([]chat.Server, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]chat.Server(nil), h.servers...), nil
}

// Channels implements chat.Hub.
func (h *Hub) Channels(_ context.Context, s chat.Server) ([]chat.Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]chat.Channel(nil), h.channels[s.ID]...), nil
}

// Messages implements chat.Hub.
func (h *Hub) Messages(_ context.Context, c chat.Context, limit int) ([]chat.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.history[c.Key()]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]chat.Message(nil), msgs...), nil
}

// Send implements chat.Hub.
func (h *Hub) Send(ctx context.Context, c chat.Context, m chat.Message) error {
	if h.SendHook != nil {
		if err := h.SendHook(ctx, c, m); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	stored := h.appendLocked(c, h.SelfName, m.Content)
	h.sent = append(h.sent, Sent{Context: c, Message: stored})
	return nil
}

// React implements chat.Hub.
func (h *Hub) React(_ context.Context, c chat.Context, m chat.Message, emoji string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reacted = append(h.reacted, Reacted{Context: c, Message: m, Emoji: emoji})
	return nil
}

// Sent returns a copy of every successful Send.
func (h *Hub) Sent() []Sent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Sent(nil), h.sent...)
}

// Reacted returns a copy of every React call.
func (h *Hub) Reacted() []Reacted {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Reacted(nil), h.reacted...)
}
