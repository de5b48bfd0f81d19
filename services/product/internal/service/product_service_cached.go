package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/retail-saga/pkg/mylogger"
	"github.com/sakashimaa/retail-saga/services/product/internal/domain"
	"go.uber.org/zap"
)

// cachedProductService caches the catalogue part of a product. Stock moves
// with every order, so the quantity on hand is always read from the store.
type cachedProductService struct {
	next        ProductService
	redisClient redis.Cmdable
	cacheTTL    time.Duration
	logger      *zap.Logger
}

func NewCachedProductService(next ProductService, redisClient redis.Cmdable, ttl time.Duration, logger *zap.Logger) ProductService {
	return &cachedProductService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    ttl,
		logger:      logger,
	}
}

func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

func (s *cachedProductService) invalidate(ctx context.Context, id int64) {
	if err := s.redisClient.Del(ctx, productKey(id)).Err(); err != nil {
		mylogger.Warn(ctx, s.logger, "product cache invalidation failed", zap.Int64("product_id", id), zap.Error(err))
	}
}

func (s *cachedProductService) Create(ctx context.Context, input domain.ProductInput) (*domain.Product, error) {
	return s.next.Create(ctx, input)
}

func (s *cachedProductService) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	key := productKey(id)

	val, err := s.redisClient.Get(ctx, key).Bytes()
	if err == nil {
		var product domain.Product
		if err := json.Unmarshal(val, &product); err == nil {
			quantity, err := s.next.StockOf(ctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrProductNotFound) {
					s.invalidate(ctx, id)
				}
				return nil, err
			}

			product.StockQuantity = quantity
			return &product, nil
		}
	}

	product, err := s.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(product); err == nil {
		if err := s.redisClient.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
			mylogger.Warn(ctx, s.logger, "product cache write failed", zap.Int64("product_id", id), zap.Error(err))
		}
	}

	return product, nil
}

func (s *cachedProductService) StockOf(ctx context.Context, id int64) (int64, error) {
	return s.next.StockOf(ctx, id)
}

func (s *cachedProductService) List(ctx context.Context, filter domain.ListFilter) ([]domain.Product, int64, error) {
	return s.next.List(ctx, filter)
}

func (s *cachedProductService) Update(ctx context.Context, id int64, input domain.ProductInput) (*domain.Product, error) {
	res, err := s.next.Update(ctx, id, input)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	return res, nil
}

func (s *cachedProductService) Delete(ctx context.Context, id int64) error {
	if err := s.next.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, id)
	return nil
}

func (s *cachedProductService) ApplyStockDelta(ctx context.Context, id, delta int64) (int64, error) {
	quantity, err := s.next.ApplyStockDelta(ctx, id, delta)
	if err != nil {
		return 0, err
	}

	s.invalidate(ctx, id)
	return quantity, nil
}
