package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Handlers receives decoded change events for one room. Any handler may be
// nil. Handlers must be idempotent: the feed is at-least-once and the same
// event can be delivered twice.
type Handlers struct {
	OnRoomChange   func(ev Event)
	OnPlayerChange func(ev Event)
	OnBuzzChange   func(ev Event)
}

// ConsumerConfig holds NATS consumer settings.
type ConsumerConfig struct {
	URL           string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		URL:           nats.DefaultURL,
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Consumer opens per-room JetStream subscriptions onto the feed stream.
type Consumer struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg ConsumerConfig
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &Consumer{nc: nc, js: js, cfg: cfg}, nil
}

// Subscription is one live per-room feed subscription.
type Subscription struct {
	stop func()
}

// Stop cancels delivery. Safe to call more than once.
func (s *Subscription) Stop() {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

// Subscribe opens a single subscription for one room and dispatches decoded
// events to the handlers. Events committed before the subscription opened
// are not replayed; callers hydrate from the store first.
func (c *Consumer) Subscribe(ctx context.Context, roomID uuid.UUID, handlers Handlers) (*Subscription, error) {
	stream, err := c.js.Stream(ctx, StreamName)
	if err != nil {
		return nil, fmt.Errorf("get feed stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: Subject(roomID),
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.cfg.MaxDeliver,
		AckWait:       c.cfg.AckWait,
		MaxAckPending: c.cfg.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create room consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := dispatch(msg.Data(), handlers); err != nil {
			// Malformed payloads are dropped, not retried: a NAK would
			// redeliver the same bytes forever.
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed feed event")
		}
		if err := msg.Ack(); err != nil {
			log.Error().Err(err).Msg("failed to ACK feed message")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("start room consumer: %w", err)
	}

	log.Info().Str("room_id", roomID.String()).Msg("feed subscription opened")
	return &Subscription{stop: consumeCtx.Stop}, nil
}

// Close shuts the NATS connection down.
func (c *Consumer) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}

func dispatch(data []byte, handlers Handlers) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal feed event: %w", err)
	}

	switch ev.Table {
	case TableRooms:
		if handlers.OnRoomChange != nil {
			handlers.OnRoomChange(ev)
		}
	case TablePlayers:
		if handlers.OnPlayerChange != nil {
			handlers.OnPlayerChange(ev)
		}
	case TableBuzzes:
		if handlers.OnBuzzChange != nil {
			handlers.OnBuzzChange(ev)
		}
	default:
		// Forward compatibility: unknown tables are ignored.
		log.Debug().Str("table", string(ev.Table)).Msg("ignoring feed event for unknown table")
	}
	return nil
}
