package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Perfect-Match-Org/PMTI/internal/logger"
	"github.com/Perfect-Match-Org/PMTI/internal/protocol"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Bus routes a message to every subscriber of a topic, on this instance and
// any other instance sharing the bus.
type Bus interface {
	Publish(ctx context.Context, topic string, msg protocol.Message, exclude string) error
}

// LocalBus delivers straight to the in-process hub.
type LocalBus struct {
	hub *Hub
}

func NewLocalBus(hub *Hub) *LocalBus {
	return &LocalBus{hub: hub}
}

func (b *LocalBus) Publish(_ context.Context, topic string, msg protocol.Message, exclude string) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	b.hub.Deliver(topic, data, exclude)
	return nil
}

const channelPrefix = "pmti:"

type envelope struct {
	Topic   string           `json:"topic"`
	Exclude string           `json:"exclude,omitempty"`
	Message protocol.Message `json:"message"`
}

// RedisBus publishes through redis pub/sub so that both participants see
// each other's messages when they are connected to different instances.
// Run must be active for messages to reach local subscribers.
type RedisBus struct {
	client *redis.Client
	hub    *Hub
	log    zerolog.Logger
}

func NewRedisBus(client *redis.Client, hub *Hub) *RedisBus {
	return &RedisBus{client: client, hub: hub, log: logger.Component("realtime.redis")}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, msg protocol.Message, exclude string) error {
	data, err := json.Marshal(envelope{Topic: topic, Exclude: exclude, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Run relays every bus message to the local hub until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	b.log.Info().Msg("relaying realtime messages from redis")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(m)
		}
	}
}

func (b *RedisBus) relay(m *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
		b.log.Warn().Err(err).Str("channel", m.Channel).Msg("dropping malformed envelope")
		return
	}
	if env.Topic == "" {
		env.Topic = strings.TrimPrefix(m.Channel, channelPrefix)
	}
	data, err := json.Marshal(env.Message)
	if err != nil {
		b.log.Warn().Err(err).Msg("re-encode message")
		return
	}
	b.hub.Deliver(env.Topic, data, env.Exclude)
}
