package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/sakashimaa/retail-saga/pkg/mylogger"
	"github.com/sakashimaa/retail-saga/services/product/internal/domain"
	"github.com/sakashimaa/retail-saga/services/product/internal/repository"
	"go.uber.org/zap"
)

type ProductService interface {
	Create(ctx context.Context, input domain.ProductInput) (*domain.Product, error)
	FindByID(ctx context.Context, id int64) (*domain.Product, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Product, int64, error)
	Update(ctx context.Context, id int64, input domain.ProductInput) (*domain.Product, error)
	Delete(ctx context.Context, id int64) error
	ApplyStockDelta(ctx context.Context, id, delta int64) (int64, error)
	StockOf(ctx context.Context, id int64) (int64, error)
}

type productService struct {
	productRepo repository.ProductRepository
	validate    *validator.Validate
	logger      *zap.Logger
}

func NewProductService(
	productRepo repository.ProductRepository,
	validate *validator.Validate,
	logger *zap.Logger,
) ProductService {
	return &productService{
		productRepo: productRepo,
		validate:    validate,
		logger:      logger,
	}
}

func (s *productService) Create(ctx context.Context, input domain.ProductInput) (*domain.Product, error) {
	if err := domain.ValidateInput(s.validate, input); err != nil {
		return nil, err
	}

	product := &domain.Product{
		Name:          input.Name,
		Description:   input.Description,
		Price:         input.Price,
		StockQuantity: input.StockQuantity,
	}

	if _, err := s.productRepo.Create(ctx, product); err != nil {
		mylogger.Error(ctx, s.logger, "create error", zap.Error(err))
		return nil, fmt.Errorf("error creating product: %w", err)
	}

	mylogger.Info(ctx, s.logger, "product created", zap.Int64("product_id", product.ID))
	return product, nil
}

func (s *productService) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	if id <= 0 {
		return nil, domain.ErrProductNotFound
	}

	res, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			mylogger.Warn(ctx, s.logger, "product not found", zap.Int64("product_id", id))
			return nil, err
		}

		mylogger.Error(ctx, s.logger, "error getting product", zap.Error(err))
		return nil, fmt.Errorf("error getting product by id: %w", err)
	}

	return res, nil
}

func (s *productService) StockOf(ctx context.Context, id int64) (int64, error) {
	quantity, err := s.productRepo.StockOf(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrProductNotFound) {
		mylogger.Error(ctx, s.logger, "error reading stock", zap.Int64("product_id", id), zap.Error(err))
	}

	return quantity, err
}

func (s *productService) List(ctx context.Context, filter domain.ListFilter) ([]domain.Product, int64, error) {
	if err := domain.ValidateFilter(filter); err != nil {
		return nil, 0, err
	}

	list, total, err := s.productRepo.List(ctx, filter)
	if err != nil {
		mylogger.Error(ctx, s.logger, "list error", zap.Error(err))
		return nil, 0, fmt.Errorf("error listing products: %w", err)
	}

	return list, total, nil
}

func (s *productService) Update(ctx context.Context, id int64, input domain.ProductInput) (*domain.Product, error) {
	if err := domain.ValidateInput(s.validate, input); err != nil {
		return nil, err
	}

	res, err := s.productRepo.Update(ctx, id, input)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			mylogger.Warn(ctx, s.logger, "product not found", zap.Int64("product_id", id))
			return nil, err
		}

		mylogger.Error(ctx, s.logger, "error updating product", zap.Error(err))
		return nil, fmt.Errorf("error updating product: %w", err)
	}

	return res, nil
}

func (s *productService) Delete(ctx context.Context, id int64) error {
	err := s.productRepo.DeleteByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			mylogger.Warn(ctx, s.logger, "product not found", zap.Int64("product_id", id))
			return err
		}

		mylogger.Error(ctx, s.logger, "error deleting product", zap.Error(err))
		return fmt.Errorf("error deleting product: %w", err)
	}

	return nil
}

// ApplyStockDelta never refuses a delta. A negative result is reported as
// drift and kept.
func (s *productService) ApplyStockDelta(ctx context.Context, id, delta int64) (int64, error) {
	quantity, err := s.productRepo.ApplyStockDelta(ctx, id, delta)
	if err != nil {
		return 0, err
	}

	if quantity < 0 {
		mylogger.Warn(
			ctx,
			s.logger,
			"inventory drift: stock below zero",
			zap.Int64("product_id", id),
			zap.Int64("delta", delta),
			zap.Int64("stock_quantity", quantity),
		)
	}

	return quantity, nil
}
