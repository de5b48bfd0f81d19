package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sakashimaa/retail-saga/pkg/config"
	"github.com/sakashimaa/retail-saga/pkg/contracts"
	"github.com/sakashimaa/retail-saga/pkg/metrics"
	"github.com/sakashimaa/retail-saga/pkg/mylogger"
	"github.com/sakashimaa/retail-saga/pkg/rabbitmq"
	"github.com/sakashimaa/retail-saga/services/product/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrDeliveriesClosed = errors.New("delivery channel closed by broker")

// handleTimeout bounds one delivery. The handler is detached from the
// consumer's context so a shutdown lets the in-flight message finish.
const handleTimeout = 30 * time.Second

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeEmpty     Outcome = "empty"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeMalformed Outcome = "malformed"
	OutcomeFailed    Outcome = "failed"
	OutcomeRequeued  Outcome = "requeued"
)

type StockApplier interface {
	ApplyStockDelta(ctx context.Context, id, delta int64) (int64, error)
}

// DedupStore is consulted before applying a message and marked only after
// every delta went through.
type DedupStore interface {
	Seen(ctx context.Context, correlationID string) (bool, error)
	Mark(ctx context.Context, correlationID string) error
}

type Options struct {
	Queue                string
	MissingProductPolicy string
	// Dedup is optional; nil processes every delivery.
	Dedup DedupStore
}

type StockConsumer struct {
	channels rabbitmq.ChannelProvider
	applier  StockApplier
	dedup    DedupStore
	queue    string
	policy   string
	metrics  *metrics.Saga
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewStockConsumer(
	channels rabbitmq.ChannelProvider,
	applier StockApplier,
	m *metrics.Saga,
	logger *zap.Logger,
	opts Options,
) *StockConsumer {
	if opts.Queue == "" {
		opts.Queue = contracts.StockQueue
	}
	if opts.MissingProductPolicy == "" {
		opts.MissingProductPolicy = config.MissingProductSkip
	}

	return &StockConsumer{
		channels: channels,
		applier:  applier,
		dedup:    opts.Dedup,
		queue:    opts.Queue,
		policy:   opts.MissingProductPolicy,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("product/stock_consumer"),
	}
}

// Start keeps a consumer attached to the queue until ctx is cancelled,
// reattaching after broker side failures.
func (c *StockConsumer) Start(ctx context.Context) {
	mylogger.Info(ctx, c.logger, "Starting stock consumer", zap.String("queue", c.queue))

	for {
		err := c.Run(ctx)
		if ctx.Err() != nil {
			mylogger.Info(ctx, c.logger, "Stock consumer stopping")
			return
		}

		mylogger.Error(ctx, c.logger, "stock consumer detached, retrying", zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// Run consumes one delivery at a time on a dedicated channel. It returns nil
// when ctx is cancelled.
func (c *StockConsumer) Run(ctx context.Context) error {
	ch, err := c.channels.Channel()
	if err != nil {
		return err
	}
	defer func() {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			mylogger.Warn(ctx, c.logger, "failed to close consumer channel", zap.Error(err))
		}
	}()

	if err := rabbitmq.DeclareQueue(ch, c.queue); err != nil {
		return err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("error setting prefetch: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, "product-stock-consumer", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("error consuming %s: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}

			c.HandleDelivery(ctx, d)
		}
	}
}

// HandleDelivery applies one stock adjustment message and settles it exactly
// once. Deltas applied before a failure are not rolled back.
func (c *StockConsumer) HandleDelivery(ctx context.Context, d amqp.Delivery) Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
	defer cancel()

	ctx = rabbitmq.ExtractTrace(ctx, d.Headers)
	ctx, span := c.tracer.Start(ctx, "StockConsumer.HandleDelivery", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	outcome := c.handle(ctx, d)

	span.SetAttributes(attribute.String("stock.outcome", string(outcome)))
	if outcome == OutcomeFailed || outcome == OutcomeMalformed {
		span.SetStatus(codes.Error, string(outcome))
	}
	c.metrics.StockMessage.WithLabelValues(string(outcome)).Inc()

	return outcome
}

func (c *StockConsumer) handle(ctx context.Context, d amqp.Delivery) Outcome {
	msg, err := contracts.DecodeStockAdjustment(d.Body)
	if err != nil {
		mylogger.Error(
			ctx,
			c.logger,
			"undecodable stock adjustment, rejecting",
			zap.Uint64("delivery_tag", d.DeliveryTag),
			zap.Error(err),
		)
		c.reject(ctx, d)
		return OutcomeMalformed
	}

	ctx = mylogger.WithCorrelationID(ctx, msg.CorrelationID.String())

	if len(msg.Items) == 0 {
		mylogger.Info(ctx, c.logger, "stock adjustment without items, acknowledging")
		c.ack(ctx, d)
		return OutcomeEmpty
	}

	if c.dedup != nil && msg.CorrelationID != uuid.Nil {
		seen, err := c.dedup.Seen(ctx, msg.CorrelationID.String())
		switch {
		case err != nil:
			mylogger.Warn(ctx, c.logger, "dedup lookup failed, processing anyway", zap.Error(err))
		case seen:
			mylogger.Info(ctx, c.logger, "duplicate stock adjustment, acknowledging")
			c.ack(ctx, d)
			return OutcomeDuplicate
		}
	}

	for _, item := range msg.Items {
		quantity, err := c.applier.ApplyStockDelta(ctx, item.ProductID, item.Quantity)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				c.metrics.StockDeltas.WithLabelValues("missing").Inc()

				if c.policy == config.MissingProductSkip {
					mylogger.Warn(
						ctx,
						c.logger,
						"product not found, skipping item",
						zap.Int64("product_id", item.ProductID),
						zap.Int64("delta", item.Quantity),
					)
					continue
				}
			} else {
				c.metrics.StockDeltas.WithLabelValues("error").Inc()
			}

			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				mylogger.Warn(
					ctx,
					c.logger,
					"stock adjustment timed out, requeueing",
					zap.Int64("product_id", item.ProductID),
					zap.Error(err),
				)
				c.requeue(ctx, d)
				return OutcomeRequeued
			}

			mylogger.Error(
				ctx,
				c.logger,
				"stock adjustment failed, rejecting",
				zap.Int64("product_id", item.ProductID),
				zap.Int64("delta", item.Quantity),
				zap.Error(err),
			)
			c.reject(ctx, d)
			return OutcomeFailed
		}

		c.metrics.StockDeltas.WithLabelValues("applied").Inc()
		mylogger.Debug(
			ctx,
			c.logger,
			"stock delta applied",
			zap.Int64("product_id", item.ProductID),
			zap.Int64("delta", item.Quantity),
			zap.Int64("stock_quantity", quantity),
		)
	}

	if c.dedup != nil && msg.CorrelationID != uuid.Nil {
		if err := c.dedup.Mark(ctx, msg.CorrelationID.String()); err != nil {
			mylogger.Warn(ctx, c.logger, "failed to mark stock adjustment as applied", zap.Error(err))
		}
	}

	c.ack(ctx, d)
	mylogger.Info(ctx, c.logger, "stock adjustment applied", zap.Int("items", len(msg.Items)))
	return OutcomeApplied
}

func (c *StockConsumer) ack(ctx context.Context, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		mylogger.Error(ctx, c.logger, "failed to ack delivery", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
	}
}

func (c *StockConsumer) requeue(ctx context.Context, d amqp.Delivery) {
	if err := d.Nack(false, true); err != nil {
		mylogger.Error(ctx, c.logger, "failed to requeue delivery", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
	}
}

func (c *StockConsumer) reject(ctx context.Context, d amqp.Delivery) {
	if err := d.Reject(false); err != nil {
		mylogger.Error(ctx, c.logger, "failed to reject delivery", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
	}
}
