package mqtt

import (
	"context"
	"fmt"
	"log"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one inbound message.
type Handler func(topic string, msg paho.Message) error

// IConsumer is the inbound side; ConsumeMessage blocks until the context is
// cancelled.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(h Handler)
}

// Consumer subscribes to a set of topic filters with per-filter QoS.
type Consumer struct {
	client  paho.Client
	topics  map[string]byte
	handler Handler
}

func NewConsumer(client paho.Client, topics map[string]byte, h Handler) *Consumer {
	return &Consumer{client: client, topics: topics, handler: h}
}

func (c *Consumer) SetHandler(h Handler) { c.handler = h }

// ConsumeMessage subscribes to every configured filter and dispatches
// messages to the handler until ctx is cancelled, then unsubscribes. A
// subscribe failure is returned immediately so the caller can abort boot.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	for filter, qos := range c.topics {
		token := c.client.Subscribe(filter, qos, func(_ paho.Client, m paho.Message) {
			if c.handler == nil {
				log.Printf("WARN: no handler set, dropping message on %s", m.Topic())
				return
			}
			if err := c.handler(m.Topic(), m); err != nil {
				log.Printf("handle message on %s: %v", m.Topic(), err)
			}
		})
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", filter, token.Error())
		}
		log.Printf("subscribed to %s (qos %d)", filter, qos)
	}

	<-ctx.Done()

	for filter := range c.topics {
		c.client.Unsubscribe(filter)
	}
	return nil
}
