// Package amqpbridge forwards selected bus events to an AMQP exchange so
// other services can react to detections.
package amqpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"fcfswatch/internal/eventbus"
	logx "fcfswatch/pkg/logx"
)

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	// Topics to forward; empty means campaign.detected only.
	Topics []string
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = "fcfswatch"
	}
	if c.RoutingKey == "" {
		c.RoutingKey = "campaign.detected"
	}
	if len(c.Topics) == 0 {
		c.Topics = []string{eventbus.TopicCampaignDetected}
	}
	return c
}

// Publisher is satisfied by *amqp.Channel.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Dialer opens a publisher and returns a closer for it.
type Dialer func(cfg Config) (Publisher, func() error, error)

// DialAMQP connects, opens a channel and declares a durable topic exchange.
func DialAMQP(cfg Config) (Publisher, func() error, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp exchange: %w", err)
	}
	return ch, func() error {
		return errors.Join(ch.Close(), conn.Close())
	}, nil
}

// envelope is the message body.
type envelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

type Bridge struct {
	cfg  Config
	dial Dialer
	log  logx.Logger

	mu     sync.Mutex
	pub    Publisher
	closer func() error
}

func New(cfg Config, dial Dialer, log logx.Logger) *Bridge {
	if dial == nil {
		dial = DialAMQP
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bridge{cfg: cfg.withDefaults(), dial: dial, log: log.With(logx.String("comp", "amqp"))}
}

// Run forwards events until ctx is done. Connection failures are retried
// lazily on the next event.
func (b *Bridge) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	defer b.close()

	if err := b.connect(); err != nil {
		b.log.Warn("amqp connect failed; will retry on next event", logx.Err(err))
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if !slices.Contains(b.cfg.Topics, ev.Type) {
				continue
			}
			if err := b.forward(ev); err != nil {
				b.log.Warn("amqp publish failed", logx.String("topic", ev.Type), logx.Err(err))
			}
		}
	}
}

func (b *Bridge) connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pub != nil {
		return nil
	}
	pub, closer, err := b.dial(b.cfg)
	if err != nil {
		return err
	}
	b.pub, b.closer = pub, closer
	b.log.Info("amqp connected", logx.String("exchange", b.cfg.Exchange))
	return nil
}

func (b *Bridge) close() {
	b.mu.Lock()
	closer := b.closer
	b.pub, b.closer = nil, nil
	b.mu.Unlock()
	if closer != nil {
		if err := closer(); err != nil {
			b.log.Debug("amqp close", logx.Err(err))
		}
	}
}

// forward publishes one event, reconnecting once on failure.
func (b *Bridge) forward(ev eventbus.Event) error {
	body, err := json.Marshal(envelope{Type: ev.Type, Time: ev.Time, Data: ev.Data})
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.Time,
		Type:         ev.Type,
		Body:         body,
	}
	key := b.cfg.RoutingKey
	if ev.Type != eventbus.TopicCampaignDetected {
		key = ev.Type
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err = b.connect(); err != nil {
			continue
		}
		b.mu.Lock()
		pub := b.pub
		b.mu.Unlock()
		if pub == nil {
			err = errors.New("amqp not connected")
			continue
		}
		if err = pub.Publish(b.cfg.Exchange, key, false, false, msg); err == nil {
			return nil
		}
		b.close()
	}
	return err
}
