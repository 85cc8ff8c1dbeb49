package worker_builder

import (
	"fmt"

	"github.com/gaoyang-zhang/mindspore-federated/shared/transport"
)

// WithAMQPTransport connects to RabbitMQ and declares the queues to every peer
func (wb *WorkerBuilder) WithAMQPTransport(config transport.AMQPConfig) *WorkerBuilder {
	if wb.transport != nil {
		wb.addError(fmt.Errorf("transport already configured"))
		return wb
	}
	if config.Connection == nil {
		wb.addError(fmt.Errorf("connection config cannot be nil"))
		return wb
	}

	amqpTransport, err := transport.NewAMQPTransport(config)
	if err != nil {
		wb.addError(fmt.Errorf("failed to create AMQP transport: %w", err))
		return wb
	}
	wb.withTransport("amqp", amqpTransport)
	return wb
}
