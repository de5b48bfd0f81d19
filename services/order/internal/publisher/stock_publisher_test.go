package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sakashimaa/retail-saga/pkg/contracts"
	"github.com/sakashimaa/retail-saga/pkg/outbox/worker"
	"github.com/sakashimaa/retail-saga/pkg/rabbitmq/rabbitmqtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublish_PersistentMandatoryAndConfirmed(t *testing.T) {
	ch := rabbitmqtest.NewChannel()
	pub := NewStockPublisher(&rabbitmqtest.Provider{Fixed: ch}, contracts.StockQueue, zap.NewNop())

	correlationID := uuid.New()
	msg := contracts.NewStockDecrement(correlationID, []contracts.Line{{ProductID: 7, Quantity: 3}})

	require.NoError(t, pub.Publish(context.Background(), msg))

	require.Equal(t, []rabbitmqtest.Declaration{{Name: "update_stock_queue", Durable: true}}, ch.Declared)
	require.True(t, ch.Confirmed)
	require.True(t, ch.Closed)
	require.Len(t, ch.Published, 1)

	sent := ch.Published[0]
	require.Equal(t, "", sent.Exchange)
	require.Equal(t, "update_stock_queue", sent.Key)
	require.True(t, sent.Mandatory)
	require.Equal(t, amqp.Persistent, sent.Msg.DeliveryMode)
	require.Equal(t, correlationID.String(), sent.Msg.CorrelationId)
	require.NotEmpty(t, sent.Msg.MessageId)
	require.Equal(t, correlationID.String(), sent.Msg.Headers[HeaderCorrelationID])

	var decoded contracts.StockAdjustmentMessage
	require.NoError(t, json.Unmarshal(sent.Msg.Body, &decoded))
	require.Equal(t, msg, decoded)
}

func TestPublish_Unroutable(t *testing.T) {
	ch := rabbitmqtest.NewChannel()
	ch.Unroutable = true
	pub := NewStockPublisher(&rabbitmqtest.Provider{Fixed: ch}, "", zap.NewNop())

	err := pub.Publish(context.Background(), contracts.NewStockRestore(uuid.New(), []contracts.Line{{ProductID: 1, Quantity: 1}}))
	require.ErrorIs(t, err, ErrUnroutable)
	require.True(t, ch.Closed)
}

func TestPublish_FailureLeftToCallerToReport(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ch := rabbitmqtest.NewChannel()
	ch.Nack = true
	pub := NewStockPublisher(&rabbitmqtest.Provider{Fixed: ch}, "", zap.New(core))

	err := pub.Publish(context.Background(), contracts.NewStockRestore(uuid.New(), []contracts.Line{{ProductID: 1, Quantity: 1}}))
	require.ErrorIs(t, err, ErrNacked)
	require.Zero(t, logs.Len())
}

func TestPublish_Nacked(t *testing.T) {
	ch := rabbitmqtest.NewChannel()
	ch.Nack = true
	pub := NewStockPublisher(&rabbitmqtest.Provider{Fixed: ch}, "", zap.NewNop())

	err := pub.Publish(context.Background(), contracts.NewStockRestore(uuid.New(), nil))
	require.ErrorIs(t, err, ErrNacked)
}

func TestPublish_ChannelErrors(t *testing.T) {
	boom := errors.New("connection refused")

	pub := NewStockPublisher(&rabbitmqtest.Provider{Err: boom}, "", zap.NewNop())
	require.ErrorIs(t, pub.Publish(context.Background(), contracts.StockAdjustmentMessage{}), boom)

	ch := rabbitmqtest.NewChannel()
	ch.PublishErr = boom
	pub = NewStockPublisher(&rabbitmqtest.Provider{Fixed: ch}, "", zap.NewNop())
	require.ErrorIs(t, pub.Publish(context.Background(), contracts.StockAdjustmentMessage{}), boom)
	require.True(t, ch.Closed)

	ch = rabbitmqtest.NewChannel()
	ch.DeclareErr = boom
	pub = NewStockPublisher(&rabbitmqtest.Provider{Fixed: ch}, "", zap.NewNop())
	require.ErrorIs(t, pub.Publish(context.Background(), contracts.StockAdjustmentMessage{}), boom)
	require.Empty(t, ch.Published)
	require.True(t, ch.Closed)
}

func TestPublish_ContextEndsWithoutConfirm(t *testing.T) {
	ch := rabbitmqtest.NewChannel()
	ch.Silent = true
	pub := NewStockPublisher(&rabbitmqtest.Provider{Fixed: ch}, "", zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pub.Publish(ctx, contracts.StockAdjustmentMessage{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, ch.Closed)
}

func TestPublishRaw_UsesOutboxEventID(t *testing.T) {
	ch := rabbitmqtest.NewChannel()
	pub := NewStockPublisher(&rabbitmqtest.Provider{Fixed: ch}, "", zap.NewNop())

	headers := map[string]string{
		HeaderCorrelationID:  "c-1",
		worker.HeaderEventID: "42",
	}
	require.NoError(t, pub.PublishRaw(context.Background(), "update_stock_queue", []byte(`{"itens":[]}`), headers))

	require.Len(t, ch.Published, 1)
	require.Equal(t, "42", ch.Published[0].Msg.MessageId)
	require.Equal(t, "c-1", ch.Published[0].Msg.CorrelationId)
}
