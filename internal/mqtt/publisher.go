package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/nugget/vercade/internal/config"
	"github.com/nugget/vercade/internal/events"
)

// DefaultTokensInterval is how often the token totals are republished.
const DefaultTokensInterval = time.Minute

// sender is the publishing half of an autopaho connection.
type sender interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// connection is the part of *autopaho.ConnectionManager the publisher
// uses.
type connection interface {
	sender
	AwaitConnection(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

func dialAutopaho(ctx context.Context, cfg autopaho.ClientConfig) (connection, error) {
	return autopaho.NewConnection(ctx, cfg)
}

// Publisher forwards bus events to the broker.
type Publisher struct {
	cfg      config.MQTTConfig
	clientID string
	bus      *events.Bus
	tokens   *DailyTokens
	logger   *slog.Logger
	interval time.Duration
	dial     func(context.Context, autopaho.ClientConfig) (connection, error)

	mu      sync.Mutex
	conn    connection
	cancel  context.CancelFunc
	stopped bool
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to connect and begin forwarding.
func New(cfg config.MQTTConfig, clientID string, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:      cfg,
		clientID: clientID,
		bus:      bus,
		tokens:   NewDailyTokens(nil),
		logger:   logger.With("component", "mqtt"),
		interval: DefaultTokensInterval,
		dial:     dialAutopaho,
	}
}

// Start connects to the broker and forwards events until ctx is
// cancelled. A broker that is down at startup is not an error; autopaho
// keeps retrying in the background.
//
// The connection outlives ctx so that [Publisher.Stop] can still announce
// "offline"; Stop closes it.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(connCtx, cm, "online")
			p.publishTokens(connCtx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := p.dial(connCtx, pahoCfg)
	if err != nil {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.conn = conn
	p.cancel = cancel
	p.mu.Unlock()

	// Forwarding ends with ctx or with Stop, whichever comes first.
	fwdCtx, fwdCancel := context.WithCancel(ctx)
	defer fwdCancel()
	stopFwd := context.AfterFunc(connCtx, fwdCancel)
	defer stopFwd()

	awaitCtx, awaitCancel := context.WithTimeout(fwdCtx, 30*time.Second)
	defer awaitCancel()
	if err := conn.AwaitConnection(awaitCtx); err != nil && fwdCtx.Err() == nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	sub := p.bus.Subscribe(256)
	defer p.bus.Unsubscribe(sub)
	p.forward(fwdCtx, conn, sub)
	return nil
}

// Stop publishes "offline", disconnects and closes the connection. A
// later Start does nothing.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	conn, cancel := p.conn, p.cancel
	p.conn, p.cancel = nil, nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	defer cancel()
	p.publishAvailability(ctx, conn, "offline")
	return conn.Disconnect(ctx)
}

func (p *Publisher) availabilityTopic() string { return p.cfg.Prefix + "/availability" }
func (p *Publisher) tokensTopic() string       { return p.cfg.Prefix + "/tokens_today" }

func (p *Publisher) eventTopic(e events.Event) string {
	return p.cfg.Prefix + "/events/" + e.Source + "/" + e.Kind
}

// forward publishes each event from sub until ctx ends or sub closes,
// and republishes the token totals on every tick.
func (p *Publisher) forward(ctx context.Context, s sender, sub <-chan events.Event) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			p.count(e)
			p.publishEvent(ctx, s, e)
		case <-ticker.C:
			p.publishTokens(ctx, s)
		}
	}
}

// count feeds model rounds into the daily token totals.
func (p *Publisher) count(e events.Event) {
	if e.Source != events.SourceAgent || e.Kind != events.KindLLMResponse {
		return
	}
	p.tokens.Add(asInt(e.Data["input_tokens"]), asInt(e.Data["output_tokens"]))
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func (p *Publisher) publishEvent(ctx context.Context, s sender, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	topic := p.eventTopic(e)
	if _, err := s.Publish(ctx, &paho.Publish{Topic: topic, Payload: payload}); err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
		}
	}
}

func (p *Publisher) publishTokens(ctx context.Context, s sender) {
	payload, err := json.Marshal(p.tokens.Snapshot())
	if err != nil {
		p.logger.Error("mqtt marshal token totals", "error", err)
		return
	}
	if _, err := s.Publish(ctx, &paho.Publish{
		Topic:   p.tokensTopic(),
		Payload: payload,
		Retain:  true,
	}); err != nil {
		p.logger.Debug("mqtt token totals publish failed", "error", err)
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, s sender, status string) {
	if _, err := s.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}
