//go:build integration

package tests

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sakashimaa/retail-saga/pkg/contracts"
	"github.com/sakashimaa/retail-saga/pkg/rabbitmq"
	"github.com/sakashimaa/retail-saga/services/product/internal/domain"
)

func (s *IntegrationTestSuite) publish(msg contracts.StockAdjustmentMessage) {
	body, err := json.Marshal(msg)
	s.Require().NoError(err)

	ch, err := s.AmqpConn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	s.Require().NoError(rabbitmq.DeclareQueue(ch, contracts.StockQueue))
	s.Require().NoError(ch.PublishWithContext(s.Ctx, "", contracts.StockQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}))
}

func (s *IntegrationTestSuite) stockOf(id int64) int64 {
	p, err := s.Repo.GetByID(s.Ctx, id)
	s.Require().NoError(err)
	return p.StockQuantity
}

func (s *IntegrationTestSuite) TestApplyStockDelta_IsAtomicUnderConcurrency() {
	p := s.seedProduct("Mouse", "50.00", 100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Repo.ApplyStockDelta(s.Ctx, p.ID, -3)
			s.NoError(err)
		}()
	}
	wg.Wait()

	s.Equal(int64(40), s.stockOf(p.ID))
}

func (s *IntegrationTestSuite) TestApplyStockDelta_AllowsNegativeAndIgnoresDeleted() {
	p := s.seedProduct("Cable", "5.00", 1)

	q, err := s.Repo.ApplyStockDelta(s.Ctx, p.ID, -4)
	s.Require().NoError(err)
	s.Equal(int64(-3), q)

	s.Require().NoError(s.Repo.DeleteByID(s.Ctx, p.ID))

	_, err = s.Repo.ApplyStockDelta(s.Ctx, p.ID, 1)
	s.ErrorIs(err, domain.ErrProductNotFound)
}

func (s *IntegrationTestSuite) TestConsumer_DecrementThenRestore() {
	p := s.seedProduct("Keyboard", "50.00", 10)
	lines := []contracts.Line{{ProductID: p.ID, Quantity: 3}}

	s.publish(contracts.NewStockDecrement(uuid.New(), lines))
	s.Eventually(func() bool { return s.stockOf(p.ID) == 7 }, 10*time.Second, 50*time.Millisecond)

	s.publish(contracts.NewStockRestore(uuid.New(), lines))
	s.Eventually(func() bool { return s.stockOf(p.ID) == 10 }, 10*time.Second, 50*time.Millisecond)
}

func (s *IntegrationTestSuite) TestConsumer_DuplicateCorrelationIDAppliedOnce() {
	p := s.seedProduct("Headset", "80.00", 10)
	msg := contracts.NewStockDecrement(uuid.New(), []contracts.Line{{ProductID: p.ID, Quantity: 2}})

	s.publish(msg)
	s.publish(msg)
	marker := s.seedProduct("Marker", "1.00", 0)
	s.publish(contracts.NewStockRestore(uuid.New(), []contracts.Line{{ProductID: marker.ID, Quantity: 1}}))

	s.Eventually(func() bool { return s.stockOf(marker.ID) == 1 }, 10*time.Second, 50*time.Millisecond)
	s.Equal(int64(8), s.stockOf(p.ID))
}

func (s *IntegrationTestSuite) TestCache_InvalidatedByStockDelta() {
	p := s.seedProduct("Monitor", "900.00", 5)

	cached, err := s.ProductService.FindByID(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(5), cached.StockQuantity)

	exists, err := s.Redis.Exists(s.Ctx, "product:"+strconv.FormatInt(p.ID, 10)).Result()
	s.Require().NoError(err)
	s.Equal(int64(1), exists)

	_, err = s.ProductService.ApplyStockDelta(s.Ctx, p.ID, -2)
	s.Require().NoError(err)

	fresh, err := s.ProductService.FindByID(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(3), fresh.StockQuantity)
}

func (s *IntegrationTestSuite) TestCache_StockReadFromStoreEvenWhenEntryIsStale() {
	p := s.seedProduct("Webcam", "120.00", 10)

	_, err := s.ProductService.FindByID(s.Ctx, p.ID)
	s.Require().NoError(err)

	// bypass the decorator so the cached entry is not invalidated
	_, err = s.Repo.ApplyStockDelta(s.Ctx, p.ID, -4)
	s.Require().NoError(err)

	exists, err := s.Redis.Exists(s.Ctx, "product:"+strconv.FormatInt(p.ID, 10)).Result()
	s.Require().NoError(err)
	s.Equal(int64(1), exists)

	got, err := s.ProductService.FindByID(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(6), got.StockQuantity)
	s.Equal("Webcam", got.Name)

	s.Require().NoError(s.Repo.DeleteByID(s.Ctx, p.ID))

	_, err = s.ProductService.FindByID(s.Ctx, p.ID)
	s.ErrorIs(err, domain.ErrProductNotFound)
}
