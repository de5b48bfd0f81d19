//go:build integration

package tests

import (
	"github.com/sakashimaa/retail-saga/services/product/internal/domain"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) TestList_FiltersSortsAndPaginates() {
	s.seedProduct("Mouse", "50.00", 10)
	s.seedProduct("Mousepad", "15.00", 30)
	s.seedProduct("Monitor", "900.00", 2)
	gone := s.seedProduct("Mouse Old", "10.00", 1)
	s.Require().NoError(s.ProductService.Delete(s.Ctx, gone.ID))

	products, total, err := s.ProductService.List(s.Ctx, domain.ListFilter{
		Page:      1,
		PageSize:  10,
		Name:      "mouse",
		SortBy:    domain.SortByPrice,
		Ascending: true,
	})
	s.Require().NoError(err)
	s.Equal(int64(2), total)
	s.Require().Len(products, 2)
	s.Equal("Mousepad", products[0].Name)
	s.Equal("Mouse", products[1].Name)

	minPrice := decimal.NewFromInt(100)
	products, total, err = s.ProductService.List(s.Ctx, domain.ListFilter{
		Page:     1,
		PageSize: 1,
		MinPrice: &minPrice,
	})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Equal("Monitor", products[0].Name)

	products, total, err = s.ProductService.List(s.Ctx, domain.ListFilter{Page: 2, PageSize: 2, Ascending: true})
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Require().Len(products, 1)
	s.Equal("Mousepad", products[0].Name)
}

func (s *IntegrationTestSuite) TestFindByID_PriceRoundTrip() {
	p := s.seedProduct("Desk", "199.99", 1)

	got, err := s.Repo.GetByID(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.True(decimal.RequireFromString("199.99").Equal(got.Price))
}
