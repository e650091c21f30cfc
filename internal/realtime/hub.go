// Package realtime fans durable row updates and ephemeral selection
// broadcasts out to the subscribers of a survey topic.
package realtime

import (
	"sync"

	"github.com/Perfect-Match-Org/PMTI/internal/logger"

	"github.com/rs/zerolog"
)

// Subscriber is one live connection on a topic.
type Subscriber interface {
	ID() string
	Send(data []byte) error
	Close() error
}

type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]Subscriber
	log    zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[string]Subscriber),
		log:    logger.Component("realtime"),
	}
}

func (h *Hub) Subscribe(topic string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]Subscriber)
	}
	h.topics[topic][sub.ID()] = sub
	h.log.Debug().Str("topic", topic).Str("subscriber", sub.ID()).Int("total", len(h.topics[topic])).
		Msg("subscriber joined")
}

func (h *Hub) Unsubscribe(topic string, sub Subscriber) {
	h.mu.Lock()
	subs, ok := h.topics[topic]
	if ok {
		delete(subs, sub.ID())
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	h.mu.Unlock()

	if ok {
		_ = sub.Close()
		h.log.Debug().Str("topic", topic).Str("subscriber", sub.ID()).Msg("subscriber left")
	}
}

// Subscribers returns the number of live subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Deliver writes data to every subscriber on topic except the one whose ID
// equals exclude. Subscribers that fail a write are dropped.
func (h *Hub) Deliver(topic string, data []byte, exclude string) {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.topics[topic]))
	for id, sub := range h.topics[topic] {
		if id != exclude {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.Send(data); err != nil {
			h.log.Warn().Err(err).Str("topic", topic).Str("subscriber", sub.ID()).Msg("write failed")
			h.Unsubscribe(topic, sub)
		}
	}
}
