package mqtt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/nugget/vercade/internal/config"
	"github.com/nugget/vercade/internal/events"
)

type fakeSender struct {
	mu        sync.Mutex
	published []*paho.Publish
}

func (f *fakeSender) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, p)
	return &paho.PublishResponse{}, nil
}

func (f *fakeSender) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.published {
		out = append(out, p.Topic)
	}
	return out
}

func (f *fakeSender) last(topic string) *paho.Publish {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].Topic == topic {
			return f.published[i]
		}
	}
	return nil
}

func newTestPublisher() *Publisher {
	return New(config.MQTTConfig{Broker: "mqtt://localhost:1883", Prefix: "vercade"}, "vercade-test", events.New(), nil)
}

func TestPublisher_Topics(t *testing.T) {
	p := newTestPublisher()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"availability", p.availabilityTopic(), "vercade/availability"},
		{"tokens", p.tokensTopic(), "vercade/tokens_today"},
		{"event", p.eventTopic(events.Event{Source: "scheduler", Kind: "idle_tick"}), "vercade/events/scheduler/idle_tick"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublisher_Forward(t *testing.T) {
	p := newTestPublisher()
	s := &fakeSender{}
	sub := make(chan events.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.forward(ctx, s, sub)
		close(done)
	}()

	sub <- events.Event{Source: events.SourceScheduler, Kind: events.KindIdleTick, Data: map[string]any{"heads": true}}
	sub <- events.Event{Source: events.SourceAgent, Kind: events.KindLLMResponse, Data: map[string]any{"input_tokens": 120, "output_tokens": 30}}
	close(sub)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forward did not return when the subscription closed")
	}

	got := s.topics()
	want := []string{"vercade/events/scheduler/idle_tick", "vercade/events/agent/llm_response"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("topics = %v, want %v", got, want)
	}

	var e events.Event
	if err := json.Unmarshal(s.last(want[0]).Payload, &e); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if e.Kind != events.KindIdleTick || e.Data["heads"] != true {
		t.Errorf("payload = %+v", e)
	}

	if tot := p.tokens.Snapshot(); tot.Input != 120 || tot.Output != 30 || tot.Rounds != 1 {
		t.Errorf("token totals = %+v", tot)
	}
}

func TestPublisher_TokensOnTick(t *testing.T) {
	p := newTestPublisher()
	p.interval = 5 * time.Millisecond
	p.tokens.Add(7, 3)
	s := &fakeSender{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.forward(ctx, s, make(chan events.Event))
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.last("vercade/tokens_today") == nil {
		if time.Now().After(deadline) {
			t.Fatal("token totals never published")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	pub := s.last("vercade/tokens_today")
	if !pub.Retain {
		t.Error("token totals should be retained")
	}
	var tot TokenTotals
	if err := json.Unmarshal(pub.Payload, &tot); err != nil {
		t.Fatal(err)
	}
	if tot != (TokenTotals{Input: 7, Output: 3, Rounds: 1}) {
		t.Errorf("totals = %+v", tot)
	}
}

func TestPublisher_Availability(t *testing.T) {
	p := newTestPublisher()
	s := &fakeSender{}
	p.publishAvailability(context.Background(), s, "online")

	pub := s.last("vercade/availability")
	if pub == nil || string(pub.Payload) != "online" || !pub.Retain || pub.QoS != 1 {
		t.Errorf("availability publish = %+v", pub)
	}
}

func TestPublisher_StopBeforeStart(t *testing.T) {
	if err := newTestPublisher().Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
}

type fakeConn struct {
	fakeSender

	mu           sync.Mutex
	offlineErr   error
	sawOffline   bool
	disconnected bool
}

func (f *fakeConn) Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	if string(p.Payload) == "offline" {
		f.mu.Lock()
		f.sawOffline = true
		f.offlineErr = ctx.Err()
		f.mu.Unlock()
	}
	return f.fakeSender.Publish(ctx, p)
}

func (f *fakeConn) AwaitConnection(context.Context) error { return nil }

func (f *fakeConn) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}

func TestPublisher_StopAfterContextCancelled(t *testing.T) {
	p := newTestPublisher()
	conn := &fakeConn{}
	dialed := make(chan context.Context, 1)
	p.dial = func(ctx context.Context, _ autopaho.ClientConfig) (connection, error) {
		dialed <- ctx
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	var connCtx context.Context
	select {
	case connCtx = <-dialed:
	case <-time.After(2 * time.Second):
		t.Fatal("Start never dialed")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if connCtx.Err() != nil {
		t.Fatal("connection context ended with the caller's context")
	}

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if !conn.sawOffline {
		t.Error("offline not published")
	}
	if conn.offlineErr != nil {
		t.Errorf("offline published on a done context: %v", conn.offlineErr)
	}
	if !conn.disconnected {
		t.Error("Disconnect not called")
	}
	if connCtx.Err() == nil {
		t.Error("connection context still live after Stop")
	}
}

func TestPublisher_StopEndsForwarding(t *testing.T) {
	p := newTestPublisher()
	dialed := make(chan struct{})
	p.dial = func(context.Context, autopaho.ClientConfig) (connection, error) {
		close(dialed)
		return &fakeConn{}, nil
	}

	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()
	<-dialed

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestPublisher_StartAfterStop(t *testing.T) {
	p := newTestPublisher()
	p.dial = func(context.Context, autopaho.ClientConfig) (connection, error) {
		t.Error("dialed after Stop")
		return &fakeConn{}, nil
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Errorf("Start() = %v, want nil", err)
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{42, 42},
		{int64(7), 7},
		{float64(3), 3},
		{"12", 0},
		{nil, 0},
	}
	for _, tt := range tests {
		if got := asInt(tt.in); got != tt.want {
			t.Errorf("asInt(%#v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLoadOrCreateClientID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := LoadOrCreateClientID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateClientID() error = %v", err)
	}
	if !strings.HasPrefix(first, "vercade-") {
		t.Errorf("id = %q, want vercade- prefix", first)
	}

	data, err := os.ReadFile(filepath.Join(dir, instanceFile))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != first {
		t.Errorf("file content = %q, want %q", got, first)
	}

	second, err := LoadOrCreateClientID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("second = %q, want stable %q", second, first)
	}
}
