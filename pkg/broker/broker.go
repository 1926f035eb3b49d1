// Package broker implements the message-broker client the dispatcher
// publishes tasks through and the task worker consumes them from, plus the
// async-result polling the monitor and HTTP surface use to read a task's
// broker-reported state.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/alasbuild/testforge/pkg/config"
	"github.com/alasbuild/testforge/pkg/log"
	"github.com/alasbuild/testforge/pkg/metrics"
)

// Broker is the narrow publish/consume surface the dispatcher and worker
// need; the AMQP wire protocol itself is out of scope (spec.md §1).
type Broker interface {
	// DeclareQueue ensures a direct exchange and queue named name exist,
	// bound to each other with routing key name (spec.md §6).
	DeclareQueue(name string) error
	// Publish serializes body as JSON and publishes it to name's exchange
	// with routing key name.
	Publish(ctx context.Context, queueName string, body any) error
	// Consume returns a channel of deliveries for queueName, with QoS
	// prefetch applied to the channel before consumption starts.
	Consume(ctx context.Context, queueName string, prefetch int) (<-chan amqp.Delivery, error)
	// Close releases the underlying connection.
	Close() error
}

// AMQPBroker is the concrete Broker over github.com/rabbitmq/amqp091-go. Each
// queue gets its own direct exchange of the same name per spec.md §6 —
// "task routing is by queue name, not by class pattern".
type AMQPBroker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial opens a connection and a single shared channel against cfg.Broker.
func Dial(cfg config.Broker) (*AMQPBroker, error) {
	uri := fmt.Sprintf("amqp://%s:%s@%s:%d/%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.VHost)
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	return &AMQPBroker{conn: conn, ch: ch}, nil
}

func (b *AMQPBroker) DeclareQueue(name string) error {
	if err := b.ch.ExchangeDeclare(name, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", name, err)
	}
	if _, err := b.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring queue %s: %w", name, err)
	}
	if err := b.ch.QueueBind(name, name, name, false, nil); err != nil {
		return fmt.Errorf("binding queue %s: %w", name, err)
	}
	return nil
}

func (b *AMQPBroker) Publish(ctx context.Context, queueName string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling task payload: %w", err)
	}

	err = b.ch.PublishWithContext(ctx, queueName, queueName, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		metrics.BrokerPublishFailuresTotal.Inc()
		return fmt.Errorf("publishing to %s: %w", queueName, err)
	}
	return nil
}

func (b *AMQPBroker) Consume(ctx context.Context, queueName string, prefetch int) (<-chan amqp.Delivery, error) {
	if err := b.ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("setting QoS prefetch=%d: %w", prefetch, err)
	}
	tag := "testforge-" + queueName
	deliveries, err := b.ch.ConsumeWithContext(ctx, queueName, tag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consuming %s: %w", queueName, err)
	}
	return deliveries, nil
}

func (b *AMQPBroker) Close() error {
	log.WithComponent("broker").Info().Msg("closing broker connection")
	if err := b.ch.Close(); err != nil {
		return err
	}
	return b.conn.Close()
}
