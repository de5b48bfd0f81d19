// Package rabbitmqtest provides in-memory stand-ins for broker channels and
// delivery acknowledgers.
package rabbitmqtest

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sakashimaa/retail-saga/pkg/rabbitmq"
)

type Declaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
}

type Published struct {
	Exchange  string
	Key       string
	Mandatory bool
	Msg       amqp.Publishing
}

// Channel records every call. Set Unroutable to have mandatory publishes
// returned and Nack to have them negatively confirmed.
type Channel struct {
	mu sync.Mutex

	DeclareErr error
	QosErr     error
	ConsumeErr error
	ConfirmErr error
	PublishErr error
	Unroutable bool
	Nack       bool
	// Silent suppresses confirms so callers block until their context ends.
	Silent bool

	Deliveries chan amqp.Delivery

	Declared  []Declaration
	Prefetch  int
	AutoAck   bool
	Confirmed bool
	Published []Published
	Closed    bool

	confirms []chan amqp.Confirmation
	returns  []chan amqp.Return
	tag      uint64
}

func NewChannel() *Channel {
	return &Channel{Deliveries: make(chan amqp.Delivery, 16)}
}

func (c *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.DeclareErr != nil {
		return amqp.Queue{}, c.DeclareErr
	}
	c.Declared = append(c.Declared, Declaration{Name: name, Durable: durable, AutoDelete: autoDelete, Exclusive: exclusive})
	return amqp.Queue{Name: name}, nil
}

func (c *Channel) Qos(prefetchCount, _ int, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.QosErr != nil {
		return c.QosErr
	}
	c.Prefetch = prefetchCount
	return nil
}

func (c *Channel) ConsumeWithContext(_ context.Context, _ string, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ConsumeErr != nil {
		return nil, c.ConsumeErr
	}
	c.AutoAck = autoAck
	return c.Deliveries, nil
}

func (c *Channel) Confirm(_ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ConfirmErr != nil {
		return c.ConfirmErr
	}
	c.Confirmed = true
	return nil
}

func (c *Channel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.confirms = append(c.confirms, confirm)
	return confirm
}

func (c *Channel) NotifyReturn(r chan amqp.Return) chan amqp.Return {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.returns = append(c.returns, r)
	return r
}

func (c *Channel) PublishWithContext(_ context.Context, exchange, key string, mandatory, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PublishErr != nil {
		return c.PublishErr
	}

	c.Published = append(c.Published, Published{Exchange: exchange, Key: key, Mandatory: mandatory, Msg: msg})

	if c.Unroutable && mandatory {
		for _, r := range c.returns {
			r <- amqp.Return{ReplyCode: amqp.NoRoute, ReplyText: "NO_ROUTE", RoutingKey: key, Body: msg.Body}
		}
	}

	if c.Confirmed && !c.Silent {
		c.tag++
		for _, ch := range c.confirms {
			ch <- amqp.Confirmation{DeliveryTag: c.tag, Ack: !c.Nack}
		}
	}

	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Closed = true
	c.confirms = nil
	c.returns = nil
	return nil
}

func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.Closed
}

// Provider hands out Fixed when set, otherwise a fresh channel per call.
type Provider struct {
	mu sync.Mutex

	Fixed  *Channel
	Err    error
	Opened []*Channel
}

func (p *Provider) Channel() (rabbitmq.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}

	ch := p.Fixed
	if ch == nil {
		ch = NewChannel()
	}
	p.Opened = append(p.Opened, ch)
	return ch, nil
}

type Acknowledger struct {
	mu sync.Mutex

	Acks     int
	Nacks    int
	Rejects  int
	Requeued bool
}

func (a *Acknowledger) Ack(_ uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.Acks++
	return nil
}

func (a *Acknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.Nacks++
	a.Requeued = a.Requeued || requeue
	return nil
}

func (a *Acknowledger) Reject(_ uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.Rejects++
	a.Requeued = a.Requeued || requeue
	return nil
}

func (a *Acknowledger) Settled() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.Acks + a.Nacks + a.Rejects
}

func Delivery(ack amqp.Acknowledger, tag uint64, body []byte) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		ContentType:  "application/json",
		Body:         body,
	}
}
