//go:build integration

package tests

import (
	"github.com/sakashimaa/retail-saga/pkg/config"
	"github.com/sakashimaa/retail-saga/services/order/internal/domain"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) TestListOrders_FiltersSortsAndPages() {
	svc := s.service(config.PublishModeDirect)

	create := func(productID, quantity int64) *domain.Order {
		order, err := svc.CreateOrder(s.ctx(), domain.CreateOrderInput{
			CustomerID: 1,
			Items:      []domain.LineInput{{ProductID: productID, Quantity: quantity}},
		})
		s.Require().NoError(err)
		return order
	}

	cancelled := create(7, 1)
	big := create(7, 2)
	small := create(8, 1)
	s.Require().NoError(svc.CancelOrder(s.ctx(), cancelled.ID))

	orders, total, err := svc.ListOrders(s.ctx(), domain.ListFilter{Page: 1, PageSize: 10, SortBy: domain.SortByTotal, Ascending: false})
	s.Require().NoError(err)
	s.Require().Equal(int64(2), total)
	s.Require().Len(orders, 2)
	s.Require().Equal(big.ID, orders[0].ID)
	s.Require().Equal(small.ID, orders[1].ID)
	s.Require().Len(orders[0].Items, 1)
	s.Require().Equal(int64(2), orders[0].Items[0].Quantity)

	minTotal := decimal.RequireFromString("20")
	orders, total, err = svc.ListOrders(s.ctx(), domain.ListFilter{Page: 1, PageSize: 10, MinTotal: &minTotal})
	s.Require().NoError(err)
	s.Require().Equal(int64(1), total)
	s.Require().Equal(big.ID, orders[0].ID)

	orders, total, err = svc.ListOrders(s.ctx(), domain.ListFilter{Page: 2, PageSize: 1, Ascending: true})
	s.Require().NoError(err)
	s.Require().Equal(int64(2), total)
	s.Require().Len(orders, 1)
	s.Require().Equal(small.ID, orders[0].ID)
}
