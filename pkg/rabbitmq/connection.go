package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("rabbitmq connection closed")

// Channel is the subset of *amqp.Channel used by publishers and consumers.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type ChannelProvider interface {
	Channel() (Channel, error)
}

// Connection is the process-wide broker connection. Channels are opened per
// use and must be closed by the caller; the underlying connection is redialed
// lazily when the broker dropped it.
type Connection struct {
	url    string
	logger *zap.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	closed bool
}

func Dial(url string, logger *zap.Logger) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("error dialing rabbitmq: %w", err)
	}

	logger.Info("rabbitmq connection established")

	return &Connection{
		url:    url,
		logger: logger,
		conn:   conn,
	}, nil
}

func (c *Connection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if c.conn == nil || c.conn.IsClosed() {
		c.logger.Warn("rabbitmq connection lost, redialing")

		conn, err := amqp.Dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("error redialing rabbitmq: %w", err)
		}
		c.conn = conn
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("error opening channel: %w", err)
	}

	return ch, nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}

	return c.conn.Close()
}

// DeclareQueue declares a durable, non-exclusive, non-auto-delete queue.
// Publisher and consumer both call it so either side may start first.
func DeclareQueue(ch Channel, name string) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("error declaring queue %s: %w", name, err)
	}

	return nil
}
