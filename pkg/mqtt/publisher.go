package mqtt

import (
	"fmt"
	"log"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher is the outbound side of the broker connection.
type IPublisher interface {
	PublishMessage(payload string) error
	PublishToQos(topic string, qos byte, retained bool, payload string) error
	Close()
}

// Publisher publishes to a default topic, or to an explicit one via
// PublishToQos.
type Publisher struct {
	client paho.Client
	topic  string
}

func NewPublisher(client paho.Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

// PublishMessage publishes to the default topic at QoS 0.
func (p *Publisher) PublishMessage(payload string) error {
	return p.PublishToQos(p.topic, 0, false, payload)
}

func (p *Publisher) PublishToQos(topic string, qos byte, retained bool, payload string) error {
	token := p.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("publish to %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects the underlying client.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Println("mqtt publisher disconnected")
	}
}
