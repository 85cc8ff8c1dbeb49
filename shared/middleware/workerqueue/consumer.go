package workerqueue

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
)

// ErrConsumerClosed is returned by Next once the delivery channel has been closed
var ErrConsumerClosed = errors.New("consumer delivery channel closed")

// QueueConsumer reads messages from a single named queue with manual acknowledgement
type QueueConsumer struct {
	QueueName  string
	Channel    *amqp.Channel
	deliveries <-chan amqp.Delivery
	tag        string
}

// NewQueueConsumer creates a new QueueConsumer on an open channel
func NewQueueConsumer(queueName string, channel *amqp.Channel) *QueueConsumer {
	return &QueueConsumer{
		QueueName: queueName,
		Channel:   channel,
		tag:       "datajoin-" + queueName,
	}
}

// StartConsuming registers the consumer with the broker
func (c *QueueConsumer) StartConsuming() error {
	if c.Channel == nil {
		return fmt.Errorf("queue %s: channel is closed", c.QueueName)
	}

	deliveries, err := c.Channel.Consume(
		c.QueueName,
		c.tag,
		false, // auto-ack (we'll handle acknowledgments manually)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("queue %s: failed to start consuming: %w", c.QueueName, err)
	}

	c.deliveries = deliveries
	middleware.LogDebug("Queue Consumer", "Started consumer for queue '%s'", c.QueueName)
	return nil
}

// Next blocks until a message arrives, acknowledges it and returns its body
func (c *QueueConsumer) Next(ctx context.Context) ([]byte, error) {
	if c.deliveries == nil {
		return nil, fmt.Errorf("queue %s: not consuming", c.QueueName)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case delivery, ok := <-c.deliveries:
		if !ok {
			return nil, ErrConsumerClosed
		}
		if err := delivery.Ack(false); err != nil {
			return nil, fmt.Errorf("queue %s: ack failed: %w", c.QueueName, err)
		}
		return delivery.Body, nil
	}
}

// StopConsuming cancels the consumer
func (c *QueueConsumer) StopConsuming() error {
	if c.Channel == nil || c.deliveries == nil {
		return nil
	}

	if err := c.Channel.Cancel(c.tag, false); err != nil {
		return fmt.Errorf("queue %s: cancel failed: %w", c.QueueName, err)
	}
	c.deliveries = nil
	middleware.LogDebug("Queue Consumer", "Consumer halted for queue '%s'", c.QueueName)
	return nil
}
