package workerqueue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
)

// QueueProducer publishes messages to a single named queue
type QueueProducer struct {
	QueueName string
	Channel   *amqp.Channel
}

// NewQueueProducer creates a new QueueProducer on an open channel
func NewQueueProducer(queueName string, channel *amqp.Channel) *QueueProducer {
	return &QueueProducer{
		QueueName: queueName,
		Channel:   channel,
	}
}

// DeclareQueue declares a durable, non-exclusive queue on the broker.
// Both peers may declare the same queue; declaration is idempotent.
func DeclareQueue(channel *amqp.Channel, queueName string) error {
	_, err := channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	return nil
}

// Send publishes message to the queue through the default exchange
func (p *QueueProducer) Send(ctx context.Context, message []byte) error {
	if p.Channel == nil {
		return fmt.Errorf("queue %s: channel is closed", p.QueueName)
	}

	err := p.Channel.PublishWithContext(ctx,
		"",          // exchange (empty for default queue)
		p.QueueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/octet-stream",
			DeliveryMode: amqp.Persistent,
			Body:         message,
		},
	)
	if err != nil {
		return fmt.Errorf("queue %s: publish failed: %w", p.QueueName, err)
	}

	middleware.LogDebug("Queue Producer", "Sent %d bytes to queue '%s'", len(message), p.QueueName)
	return nil
}
