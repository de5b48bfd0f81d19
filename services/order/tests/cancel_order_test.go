//go:build integration

package tests

import (
	"sync"

	"github.com/sakashimaa/retail-saga/pkg/config"
	"github.com/sakashimaa/retail-saga/pkg/contracts"
	"github.com/sakashimaa/retail-saga/services/order/internal/domain"
)

func (s *IntegrationTestSuite) createOrder(mode string, lines ...domain.LineInput) *domain.Order {
	order, err := s.service(mode).CreateOrder(s.ctx(), domain.CreateOrderInput{
		CustomerID: 1,
		Items:      lines,
	})
	s.Require().NoError(err)
	return order
}

func (s *IntegrationTestSuite) TestCancelOrder_RestoresAndSoftDeletes() {
	order := s.createOrder(config.PublishModeDirect, domain.LineInput{ProductID: 7, Quantity: 3})

	_, _, ok := s.nextStockMessage()
	s.Require().True(ok)

	s.Require().NoError(s.service(config.PublishModeDirect).CancelOrder(s.ctx(), order.ID))

	msg, _, ok := s.nextStockMessage()
	s.Require().True(ok, "restore message not delivered")
	s.Require().Equal([]contracts.StockAdjustmentItem{{ProductID: 7, Quantity: 3}}, msg.Items)

	var (
		status    string
		isDeleted bool
	)
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx,
		`SELECT status, is_deleted FROM orders WHERE id = $1`, order.ID,
	).Scan(&status, &isDeleted))
	s.Require().Equal(string(domain.OrderStatusCancelled), status)
	s.Require().True(isDeleted)

	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM order_items WHERE order_id = $1 AND is_deleted = FALSE`, order.ID))
	s.Require().Equal(1, s.countRows(
		`SELECT COUNT(DISTINCT i.deleted_at) FROM order_items i JOIN orders o ON o.id = i.order_id
		 WHERE o.id = $1 AND i.deleted_at = o.deleted_at`, order.ID))

	_, err := s.Repo.GetOrder(s.ctx(), order.ID)
	s.Require().Error(err)
}

func (s *IntegrationTestSuite) TestCancelOrder_UnknownOrderPublishesNothing() {
	err := s.service(config.PublishModeDirect).CancelOrder(s.ctx(), 12345)
	s.Require().Equal(domain.KindNotFound, domain.KindOf(err))
	s.Require().Zero(s.queueDepth())
}

func (s *IntegrationTestSuite) TestCancelOrder_ConcurrentCancelsEmitOneRestore() {
	order := s.createOrder(config.PublishModeDirect, domain.LineInput{ProductID: 7, Quantity: 1})
	_, _, ok := s.nextStockMessage()
	s.Require().True(ok)

	svc := s.service(config.PublishModeDirect)

	const workers = 5
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.CancelOrder(s.ctx(), order.ID)
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.Require().Equal(domain.KindNotFound, domain.KindOf(err))
	}

	s.Require().Equal(1, succeeded)
	s.Require().Equal(1, s.queueDepth())
}

func (s *IntegrationTestSuite) TestCancelOrder_OutboxMode() {
	order := s.createOrder(config.PublishModeOutbox, domain.LineInput{ProductID: 8, Quantity: 2})

	s.Require().NoError(s.service(config.PublishModeOutbox).CancelOrder(s.ctx(), order.ID))
	s.Require().Equal(2, s.countRows(`SELECT COUNT(*) FROM outbox WHERE topic = $1`, contracts.StockQueue))

	_, err := s.Processor.ProcessBatch(s.ctx())
	s.Require().NoError(err)

	first, _, ok := s.nextStockMessage()
	s.Require().True(ok)
	second, _, ok := s.nextStockMessage()
	s.Require().True(ok)

	s.Require().Equal(int64(-2), first.Items[0].Quantity)
	s.Require().Equal(int64(2), second.Items[0].Quantity)
}
