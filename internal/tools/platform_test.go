package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/nugget/vercade/internal/chat"
	"github.com/nugget/vercade/internal/chat/chattest"
)

func platformFixture(t *testing.T) (*Registry, *chattest.Hub, chat.Context) {
	t.Helper()
	hub := chattest.NewHub("vercade")
	general := hub.Add("Test Server", "general")
	hub.Add("Test Server", "spam")
	hub.Add("Test Server 2", "lobby")
	hub.Post(general, "bob", "Hello")
	hub.Post(general, "carol", "anyone up for pizza?")

	r := testRegistry()
	if err := RegisterPlatformTools(r, hub); err != nil {
		t.Fatal(err)
	}
	return r, hub, general
}

func TestPlatformTools_Listing(t *testing.T) {
	r, _, _ := platformFixture(t)
	ctx := context.Background()

	got, _ := r.Execute(ctx, "list_servers", "")
	if got != "Test Server\nTest Server 2" {
		t.Errorf("list_servers = %q", got)
	}
	got, _ = r.Execute(ctx, "list_channels", `{"server":"test server"}`)
	if got != "general\nspam" {
		t.Errorf("list_channels = %q", got)
	}
	got, _ = r.Execute(ctx, "list_channels", `{"server":"Test Server 2"}`)
	if got != "lobby" {
		t.Errorf("list_channels = %q", got)
	}
	got, _ = r.Execute(ctx, "list_channels", `{"server":"Elsewhere"}`)
	if !strings.HasPrefix(got, "Error calling tool list_channels") {
		t.Errorf("unknown server result = %q", got)
	}
}

func TestPlatformTools_GetMessages(t *testing.T) {
	r, _, _ := platformFixture(t)

	got, err := r.Execute(context.Background(), "get_messages", `{"server":"Test Server","channel":"#general","limit":1}`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "Hello") || !strings.Contains(got, "carol: anyone up for pizza?") {
		t.Errorf("get_messages limit 1 = %q", got)
	}

	got, _ = r.Execute(context.Background(), "get_messages", `{"server":"Test Server","channel":"spam"}`)
	if got != "(no messages)" {
		t.Errorf("empty channel = %q", got)
	}

	got, _ = r.Execute(context.Background(), "get_messages", `{"server":"Test Server"}`)
	if got != "Error calling tool get_messages: channel is required" {
		t.Errorf("missing channel = %q", got)
	}
}

func TestPlatformTools_SendMessage(t *testing.T) {
	r, hub, general := platformFixture(t)

	got, _ := r.Execute(context.Background(), "send_message", `{"server":"Test Server","channel":"general","content":"hi @bob"}`)
	if got != "ok" {
		t.Fatalf("send_message = %q", got)
	}
	sent := hub.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages", len(sent))
	}
	if sent[0].Context.Key() != general.Key() || sent[0].Message.Content != "hi @bob" || sent[0].Message.Author != "vercade" {
		t.Errorf("sent = %+v", sent[0])
	}

	got, _ = r.Execute(context.Background(), "send_message", `{"server":"Test Server","channel":"general","content":"  "}`)
	if !strings.HasPrefix(got, "Error calling tool send_message") {
		t.Errorf("empty content = %q", got)
	}
	if len(hub.Sent()) != 1 {
		t.Error("empty content must not be sent")
	}
}

func TestPlatformTools_React(t *testing.T) {
	r, hub, _ := platformFixture(t)

	got, _ := r.Execute(context.Background(), "react", `{"server":"Test Server","channel":"general","message_content":"Hello","emoji":"👋"}`)
	if got != "ok" {
		t.Fatalf("react = %q", got)
	}
	reacted := hub.Reacted()
	if len(reacted) != 1 || reacted[0].Message.Content != "Hello" || reacted[0].Emoji != "👋" {
		t.Errorf("reacted = %+v", reacted)
	}

	got, _ = r.Execute(context.Background(), "react", `{"server":"Test Server","channel":"general","message_content":"missing","emoji":"👋"}`)
	if got != "Error calling tool react: message not found" {
		t.Errorf("missing message = %q", got)
	}
}

func TestTranscript(t *testing.T) {
	m, _ := chat.NewMessage("look", "bob",
		chat.WithReactions(chat.Reaction{Emoji: "🔥", Users: []string{"carol", "dave"}}),
		chat.WithEmbeds(chat.Embed{URL: "https://example.com/cat.png"}),
	)
	got := Transcript([]chat.Message{m})
	for _, want := range []string{"bob: look", "reaction 🔥 by carol, dave", "embed https://example.com/cat.png"} {
		if !strings.Contains(got, want) {
			t.Errorf("Transcript missing %q in %q", want, got)
		}
	}
}
