package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sakashimaa/retail-saga/pkg/contracts"
	"github.com/sakashimaa/retail-saga/pkg/mylogger"
	"github.com/sakashimaa/retail-saga/pkg/outbox/worker"
	"github.com/sakashimaa/retail-saga/pkg/rabbitmq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HeaderCorrelationID is the header every saga message carries its
// correlation id in.
const HeaderCorrelationID = "correlation_id"

var (
	ErrUnroutable = errors.New("message returned by broker: no queue bound")
	ErrNacked     = errors.New("message nacked by broker")
	ErrNoConfirm  = errors.New("channel closed before broker confirmed the message")
)

type StockPublisher struct {
	channels rabbitmq.ChannelProvider
	queue    string
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewStockPublisher(channels rabbitmq.ChannelProvider, queue string, logger *zap.Logger) *StockPublisher {
	if queue == "" {
		queue = contracts.StockQueue
	}

	return &StockPublisher{
		channels: channels,
		queue:    queue,
		logger:   logger,
		tracer:   otel.Tracer("order/stock_publisher"),
	}
}

// Publish sends msg to the stock queue and waits for the broker to confirm
// it. The message is persistent and mandatory.
func (p *StockPublisher) Publish(ctx context.Context, msg contracts.StockAdjustmentMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal stock adjustment: %w", err)
	}

	headers := map[string]string{HeaderCorrelationID: msg.CorrelationID.String()}
	return p.PublishRaw(ctx, p.queue, body, headers)
}

// PublishRaw lets the outbox relay deliver rows written for the stock queue.
func (p *StockPublisher) PublishRaw(ctx context.Context, queue string, payload []byte, headers map[string]string) error {
	ctx, span := p.tracer.Start(ctx, "StockPublisher.Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.destination.name", queue),
		attribute.Int("messaging.message.body.size", len(payload)),
	)

	if err := p.send(ctx, queue, payload, headers); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		// callers log and count the failure
		mylogger.Debug(
			ctx,
			p.logger,
			"Failed to publish stock adjustment",
			zap.String("queue", queue),
			zap.String("correlation_id", headers[HeaderCorrelationID]),
			zap.Error(err),
		)

		return err
	}

	mylogger.Debug(
		ctx,
		p.logger,
		"Stock adjustment published",
		zap.String("queue", queue),
		zap.String("correlation_id", headers[HeaderCorrelationID]),
	)

	return nil
}

func (p *StockPublisher) send(ctx context.Context, queue string, payload []byte, headers map[string]string) error {
	ch, err := p.channels.Channel()
	if err != nil {
		return err
	}
	defer func() {
		if err := ch.Close(); err != nil {
			mylogger.Warn(ctx, p.logger, "Failed to close channel", zap.Error(err))
		}
	}()

	if err := rabbitmq.DeclareQueue(ch, queue); err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("error enabling publisher confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))

	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}
	table = rabbitmq.InjectTrace(ctx, table)

	messageID := headers[worker.HeaderEventID]
	if messageID == "" {
		messageID = uuid.NewString()
	}

	if err := ch.PublishWithContext(ctx, "", queue, true, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: headers[HeaderCorrelationID],
		MessageId:     messageID,
		Timestamp:     time.Now().UTC(),
		Headers:       table,
		Body:          payload,
	}); err != nil {
		return fmt.Errorf("error publishing to %s: %w", queue, err)
	}

	var confirm amqp.Confirmation
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for confirm: %w", ctx.Err())
	case c, ok := <-confirms:
		if !ok {
			return ErrNoConfirm
		}
		confirm = c
	}

	// The broker sends basic.return before the ack of an unroutable message.
	select {
	case ret := <-returns:
		return fmt.Errorf("%w: %s (%d)", ErrUnroutable, ret.ReplyText, ret.ReplyCode)
	default:
	}

	if !confirm.Ack {
		return ErrNacked
	}

	return nil
}
