package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/retail-saga/pkg/mylogger"
	"github.com/sakashimaa/retail-saga/services/product/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Product, int64, error)
	Update(ctx context.Context, id int64, input domain.ProductInput) (*domain.Product, error)
	DeleteByID(ctx context.Context, id int64) error
	ApplyStockDelta(ctx context.Context, id, delta int64) (int64, error)
	StockOf(ctx context.Context, id int64) (int64, error)
}

type productRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewProductRepository(pool *pgxpool.Pool, logger *zap.Logger) ProductRepository {
	return &productRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("product/product_repo"),
	}
}

const productColumns = `id, name, description, price, stock_quantity, is_deleted, deleted_at, created_at, updated_at`

func scanProduct(row pgx.Row, p *domain.Product) error {
	return row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.StockQuantity,
		&p.IsDeleted,
		&p.DeletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
}

// ApplyStockDelta adds delta to the stock of a live product in one statement
// and returns the resulting quantity. The result may be negative.
func (r *productRepo) ApplyStockDelta(ctx context.Context, id, delta int64) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.ApplyStockDelta")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
		attribute.Int64("delta", delta),
	)

	query := `
		UPDATE products
		SET stock_quantity = stock_quantity + $1, updated_at = NOW()
		WHERE id = $2 AND is_deleted = FALSE
		RETURNING stock_quantity
	`

	var quantity int64
	if err := r.pool.QueryRow(ctx, query, delta, id).Scan(&quantity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}

		span.RecordError(err)
		mylogger.Warn(ctx, r.logger, "Failed to update stock_quantity", zap.Int64("product_id", id), zap.Error(err))

		return 0, fmt.Errorf("error applying stock delta to product %d: %w", id, err)
	}

	span.SetAttributes(attribute.Int64("stock_quantity", quantity))
	return quantity, nil
}

// StockOf reads only the quantity on hand of a live product.
func (r *productRepo) StockOf(ctx context.Context, id int64) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.StockOf")
	defer span.End()

	span.SetAttributes(attribute.Int64("id", id))

	query := `SELECT stock_quantity FROM products WHERE id = $1 AND is_deleted = FALSE`

	var quantity int64
	if err := r.pool.QueryRow(ctx, query, id).Scan(&quantity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}

		span.RecordError(err)
		return 0, fmt.Errorf("error reading stock of product %d: %w", id, err)
	}

	return quantity, nil
}

func (r *productRepo) Update(ctx context.Context, id int64, input domain.ProductInput) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.Update")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
	)

	query := `
		UPDATE products
		SET name = $1, description = $2, price = $3, stock_quantity = $4, updated_at = NOW()
		WHERE id = $5 AND is_deleted = FALSE
		RETURNING ` + productColumns

	var res domain.Product
	err := scanProduct(r.pool.QueryRow(
		ctx,
		query,
		input.Name,
		input.Description,
		input.Price,
		input.StockQuantity,
		id,
	), &res)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to Update product",
			zap.Int64("id", id),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error updating product: %w", err)
	}

	return &res, nil
}

func (r *productRepo) DeleteByID(ctx context.Context, id int64) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.DeleteByID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
	)

	query := `
		UPDATE products
		SET is_deleted = TRUE, deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE
	`

	commandTag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error deleting product by id",
			zap.Int64("id", id),
			zap.Error(err),
		)

		return fmt.Errorf("error deleting product by id: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}

	return nil
}

func (r *productRepo) Create(ctx context.Context, product *domain.Product) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("name", product.Name),
	)

	query := `
		INSERT INTO products (name, description, price, stock_quantity)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at;
	`

	err := r.pool.QueryRow(
		ctx,
		query,
		product.Name,
		product.Description,
		product.Price,
		product.StockQuantity,
	).Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error creating product",
			zap.Error(err),
		)

		return 0, fmt.Errorf("error creating product: %w", err)
	}

	return product.ID, nil
}

func (r *productRepo) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.GetByID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
	)

	query := `SELECT ` + productColumns + `
		FROM products
		WHERE id = $1 AND is_deleted = FALSE;
	`

	var res domain.Product
	if err := scanProduct(r.pool.QueryRow(ctx, query, id), &res); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error get by id",
			zap.Int64("id", id),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error getting product: %w", err)
	}

	return &res, nil
}

var sortColumns = map[domain.SortField]string{
	domain.SortByName:  "name",
	domain.SortByPrice: "price",
	domain.SortByStock: "stock_quantity",
}

func (r *productRepo) List(ctx context.Context, filter domain.ListFilter) ([]domain.Product, int64, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.List")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("page", filter.Page),
		attribute.Int64("page_size", filter.PageSize),
		attribute.String("search", filter.Name),
	)

	var (
		where []string
		args  []any
	)
	where = append(where, "is_deleted = FALSE")

	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.Name != "" {
		add("name ILIKE $%d", "%"+filter.Name+"%")
	}
	if filter.MinPrice != nil {
		add("price >= $%d", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		add("price <= $%d", *filter.MaxPrice)
	}
	if filter.MinStock != nil {
		add("stock_quantity >= $%d", *filter.MinStock)
	}
	if filter.MaxStock != nil {
		add("stock_quantity <= $%d", *filter.MaxStock)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "name"
	}
	direction := "ASC"
	if !filter.Ascending {
		direction = "DESC"
	}

	countArgs := append([]any(nil), args...)

	baseQuery := `SELECT ` + productColumns + ` FROM products` + whereClause +
		fmt.Sprintf(" ORDER BY %s %s, id ASC LIMIT $%d OFFSET $%d", column, direction, len(args)+1, len(args)+2)
	args = append(args, filter.PageSize, filter.Offset())

	rows, err := r.pool.Query(ctx, baseQuery, args...)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error getting products",
			zap.String("search", filter.Name),
			zap.Error(err),
		)

		return nil, 0, fmt.Errorf("error selecting products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, filter.PageSize)
	for rows.Next() {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			span.RecordError(err)

			return nil, 0, fmt.Errorf("error scanning rows: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)

		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	var totalCount int64
	countQuery := `SELECT COUNT(*) FROM products` + whereClause
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&totalCount); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to count products",
			zap.Error(err),
		)

		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	return products, totalCount, nil
}
