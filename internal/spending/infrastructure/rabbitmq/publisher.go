// Package rabbitmq publishes outbox events to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"cardcrm/internal/common/events"
)

// Channel is the part of *amqp091.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Publisher sends event envelopes to a durable topic exchange, using the
// event type as routing key.
type Publisher struct {
	conn     *amqp091.Connection
	channel  Channel
	exchange string
}

// NewPublisher creates a publisher over an open channel.
func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{channel: ch, exchange: exchange}
}

// Dial connects to RabbitMQ, declares the exchange and returns a publisher
// that owns the connection.
func Dial(amqpURL, exchange string) (*Publisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Publisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// Publish sends one envelope as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, event events.EventEnvelope) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	msg := amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     event.EventID.String(),
		CorrelationId: event.CorrelationID.String(),
		Type:          event.EventType,
		Timestamp:     event.OccurredAt,
		Body:          body,
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, event.EventType, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType, err)
	}
	return nil
}

// Close closes the underlying connection when the publisher owns one.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
