//go:build integration

package tests

import (
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sakashimaa/retail-saga/pkg/config"
	"github.com/sakashimaa/retail-saga/pkg/contracts"
	"github.com/sakashimaa/retail-saga/services/order/internal/domain"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) TestCreateOrder_PersistsAndPublishesDecrement() {
	order, err := s.service(config.PublishModeDirect).CreateOrder(s.ctx(), domain.CreateOrderInput{
		CustomerID: 1,
		Items: []domain.LineInput{
			{ProductID: 7, Quantity: 3},
			{ProductID: 8, Quantity: 1},
		},
	})
	s.Require().NoError(err)

	stored, err := s.Repo.GetOrder(s.ctx(), order.ID)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusConfirmed, stored.Status)
	s.Require().True(decimal.RequireFromString("169.90").Equal(stored.Total), stored.Total.String())
	s.Require().Equal(order.CorrelationID, stored.CorrelationID)
	s.Require().Len(stored.Items, 2)
	s.Require().Equal("Caneca", stored.Items[0].ProductName)
	s.Require().True(decimal.RequireFromString("50").Equal(stored.Items[0].UnitPrice))

	msg, delivery, ok := s.nextStockMessage()
	s.Require().True(ok, "decrement message not delivered")
	s.Require().Equal(order.CorrelationID, msg.CorrelationID)
	s.Require().Equal([]contracts.StockAdjustmentItem{
		{ProductID: 7, Quantity: -3},
		{ProductID: 8, Quantity: -1},
	}, msg.Items)
	s.Require().Equal(amqp.Persistent, delivery.DeliveryMode)
	s.Require().Equal(order.CorrelationID.String(), delivery.CorrelationId)

	s.Require().Equal(1, s.countRows(`SELECT COUNT(*) FROM outbox WHERE event_type = 'OrderCreated' AND aggregate_id = $1`, strconv.FormatInt(stored.ID, 10)))
}

func (s *IntegrationTestSuite) TestCreateOrder_InsufficientStockLeavesNoTrace() {
	_, err := s.service(config.PublishModeDirect).CreateOrder(s.ctx(), domain.CreateOrderInput{
		CustomerID: 1,
		Items: []domain.LineInput{
			{ProductID: 7, Quantity: 1},
			{ProductID: 8, Quantity: 5},
		},
	})
	s.Require().Equal(domain.KindConflict, domain.KindOf(err))

	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM orders`))
	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM outbox`))
	s.Require().Zero(s.queueDepth())
}

func (s *IntegrationTestSuite) TestCreateOrder_UnknownProduct() {
	_, err := s.service(config.PublishModeDirect).CreateOrder(s.ctx(), domain.CreateOrderInput{
		CustomerID: 1,
		Items:      []domain.LineInput{{ProductID: 404, Quantity: 1}},
	})
	s.Require().Equal(domain.KindNotFound, domain.KindOf(err))
	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM orders`))
}

func (s *IntegrationTestSuite) TestCreateOrder_OutboxModeRelaysThroughWorker() {
	order, err := s.service(config.PublishModeOutbox).CreateOrder(s.ctx(), domain.CreateOrderInput{
		CustomerID: 2,
		Items:      []domain.LineInput{{ProductID: 7, Quantity: 2}},
	})
	s.Require().NoError(err)

	s.Require().Zero(s.queueDepth())
	s.Require().Equal(2, s.countRows(`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`))

	published, err := s.Processor.ProcessBatch(s.ctx())
	s.Require().NoError(err)
	s.Require().GreaterOrEqual(published, 1)

	msg, delivery, ok := s.nextStockMessage()
	s.Require().True(ok, "relayed decrement not delivered")
	s.Require().Equal(order.CorrelationID, msg.CorrelationID)
	s.Require().Equal([]contracts.StockAdjustmentItem{{ProductID: 7, Quantity: -2}}, msg.Items)
	s.Require().NotEmpty(delivery.MessageId)

	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM outbox WHERE topic = $1 AND published_at IS NULL`, contracts.StockQueue))
}
