package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware/workerqueue"
)

const DefaultQueuePrefix = "datajoin"

// AMQPConfig describes one party of a broker-backed transport
type AMQPConfig struct {
	Name        string
	Peers       []string
	QueuePrefix string
	Connection  *middleware.ConnectionConfig
	// ConnectRetries and RetryInterval bound the wait for the broker
	ConnectRetries int
	RetryInterval  time.Duration
	Prefetch       int
}

// AMQPTransport routes every direction of every pair through its own durable
// queue named <prefix>.<receiver>.<sender>.
type AMQPTransport struct {
	config    AMQPConfig
	inbox     *inboxes
	conn      *amqp.Connection
	publishCh *amqp.Channel
	consumeCh *amqp.Channel

	sendMu    sync.Mutex
	producers map[string]*workerqueue.QueueProducer
	consumers []*workerqueue.QueueConsumer

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// QueueName returns the queue carrying messages from sender to receiver
func QueueName(prefix, receiver, sender string) string {
	if prefix == "" {
		prefix = DefaultQueuePrefix
	}
	return fmt.Sprintf("%s.%s.%s", prefix, receiver, sender)
}

// NewAMQPTransport connects to the broker and starts consuming from every peer
func NewAMQPTransport(config AMQPConfig) (*AMQPTransport, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("transport name is required")
	}
	if config.Connection == nil {
		config.Connection = middleware.DefaultConnectionConfig()
	}
	if config.ConnectRetries <= 0 {
		config.ConnectRetries = DefaultDialRetries
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 2 * time.Second
	}
	if config.Prefetch <= 0 {
		config.Prefetch = 16
	}

	conn, err := middleware.CreateConnection(config.Connection, config.ConnectRetries, config.RetryInterval)
	if err != nil {
		return nil, err
	}

	t := &AMQPTransport{
		config:    config,
		inbox:     newInboxes(),
		conn:      conn,
		producers: make(map[string]*workerqueue.QueueProducer),
		closed:    make(chan struct{}),
	}
	if err := t.setup(); err != nil {
		conn.Close()
		return nil, err
	}

	middleware.LogInfo("AMQP Transport", "%s connected to %s with peers %v", config.Name, config.Connection.Host, config.Peers)
	return t, nil
}

func (t *AMQPTransport) setup() error {
	var err error
	if t.publishCh, err = middleware.CreateChannel(t.conn, t.config.Prefetch); err != nil {
		return err
	}
	if t.consumeCh, err = middleware.CreateChannel(t.conn, t.config.Prefetch); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	for _, peer := range t.config.Peers {
		outQueue := QueueName(t.config.QueuePrefix, peer, t.config.Name)
		inQueue := QueueName(t.config.QueuePrefix, t.config.Name, peer)
		for _, name := range []string{outQueue, inQueue} {
			if err := workerqueue.DeclareQueue(t.publishCh, name); err != nil {
				cancel()
				return err
			}
		}

		t.producers[peer] = workerqueue.NewQueueProducer(outQueue, t.publishCh)

		consumer := workerqueue.NewQueueConsumer(inQueue, t.consumeCh)
		if err := consumer.StartConsuming(); err != nil {
			cancel()
			return err
		}
		t.consumers = append(t.consumers, consumer)

		t.wg.Add(1)
		go t.pump(ctx, peer, consumer)
	}
	return nil
}

func (t *AMQPTransport) pump(ctx context.Context, peer string, consumer *workerqueue.QueueConsumer) {
	defer t.wg.Done()
	for {
		body, err := consumer.Next(ctx)
		if err != nil {
			if errors.Is(err, workerqueue.ErrConsumerClosed) {
				middleware.LogWarn("AMQP Transport", "consumer for %s closed by broker", peer)
				t.inbox.disconnected(peer)
			}
			return
		}
		t.inbox.push(peer, body)
	}
}

// Name returns the local party name
func (t *AMQPTransport) Name() string {
	return t.config.Name
}

// Send publishes payload to the queue read by peer
func (t *AMQPTransport) Send(ctx context.Context, peer string, payload []byte) error {
	select {
	case <-t.closed:
		return newError("send", peer, ErrClosed)
	default:
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	producer, ok := t.producers[peer]
	if !ok {
		return newError("send", peer, fmt.Errorf("unknown peer"))
	}
	if err := producer.Send(ctx, payload); err != nil {
		return newError("send", peer, err)
	}
	return nil
}

// Receive returns the next payload sent by peer
func (t *AMQPTransport) Receive(ctx context.Context, peer string) ([]byte, error) {
	payload, err := t.inbox.pop(ctx, peer)
	if err != nil {
		return nil, newError("receive", peer, err)
	}
	return payload, nil
}

// Close stops the consumers and releases the broker connection
func (t *AMQPTransport) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.cancel()
		t.wg.Wait()

		for _, consumer := range t.consumers {
			if err := consumer.StopConsuming(); err != nil {
				errs = append(errs, err)
			}
		}
		t.inbox.close()

		for _, ch := range []*amqp.Channel{t.publishCh, t.consumeCh} {
			if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if err := t.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		middleware.LogDebug("AMQP Transport", "%s closed", t.config.Name)
	})
	return errors.Join(errs...)
}
