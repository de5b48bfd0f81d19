package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/retail-saga/pkg/mylogger"
	"github.com/sakashimaa/retail-saga/services/order/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderRepository interface {
	CreateOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	// GetOrderForUpdate locks the order row until tx ends.
	GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID int64) (*domain.Order, error)
	CancelOrder(ctx context.Context, tx pgx.Tx, orderID int64, deletedAt time.Time) error
	// ListOrders returns one page of live orders with their items and the
	// number of orders matching the filter.
	ListOrders(ctx context.Context, filter domain.ListFilter) ([]domain.Order, int64, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type orderRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("order_repository"),
	}
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("customer_id", order.CustomerID),
		attribute.Int("items_count", len(order.Items)),
	)

	queryOrder := `
		INSERT INTO orders (customer_id, total, status, correlation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	if err := tx.QueryRow(
		ctx,
		queryOrder,
		order.CustomerID,
		order.Total,
		string(order.Status),
		order.CorrelationID,
	).Scan(
		&order.ID,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to insert order",
			zap.Error(err),
		)

		return fmt.Errorf("failed to insert order: %w", describe(err))
	}

	queryItem := `
		INSERT INTO order_items (order_id, product_id, product_name, unit_price, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		if err := tx.QueryRow(
			ctx,
			queryItem,
			order.ID,
			item.ProductID,
			item.ProductName,
			item.UnitPrice,
			item.Quantity,
		).Scan(
			&item.ID,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			span.RecordError(err)

			mylogger.Error(
				ctx,
				r.logger,
				"Failed to insert item",
				zap.Int64("product_id", item.ProductID),
				zap.Error(err),
			)

			return fmt.Errorf("failed to insert order item: %w", describe(err))
		}
	}

	span.SetAttributes(attribute.Int64("order_id", order.ID))
	return nil
}

func (r *orderRepo) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetOrder")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", orderID))

	order, err := r.load(ctx, r.pool, orderID, false)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		span.RecordError(err)
	}
	return order, err
}

func (r *orderRepo) GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID int64) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetOrderForUpdate")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", orderID))

	order, err := r.load(ctx, tx, orderID, true)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		span.RecordError(err)
	}
	return order, err
}

func (r *orderRepo) load(ctx context.Context, q querier, orderID int64, forUpdate bool) (*domain.Order, error) {
	queryOrder := `
		SELECT id, customer_id, total, status, correlation_id, is_deleted, deleted_at, created_at, updated_at
		FROM orders
		WHERE id = $1 AND is_deleted = FALSE
	`
	if forUpdate {
		queryOrder += " FOR UPDATE"
	}

	var (
		order  domain.Order
		status string
	)
	if err := q.QueryRow(ctx, queryOrder, orderID).Scan(
		&order.ID,
		&order.CustomerID,
		&order.Total,
		&status,
		&order.CorrelationID,
		&order.IsDeleted,
		&order.DeletedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to query order",
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	order.Status = domain.OrderStatus(status)

	queryItems := `
		SELECT id, order_id, product_id, product_name, unit_price, quantity, is_deleted, deleted_at, created_at, updated_at
		FROM order_items
		WHERE order_id = $1 AND is_deleted = FALSE
		ORDER BY id ASC
	`

	rows, err := q.Query(ctx, queryItems, orderID)
	if err != nil {
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to query order_items",
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := scanItem(rows, &item); err != nil {
			mylogger.Error(
				ctx,
				r.logger,
				"Failed to scan row",
				zap.Error(err),
			)

			return nil, err
		}

		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		mylogger.Error(
			ctx,
			r.logger,
			"Rows error",
			zap.Error(err),
		)

		return nil, err
	}

	return &order, nil
}

const itemColumns = `id, order_id, product_id, product_name, unit_price, quantity, is_deleted, deleted_at, created_at, updated_at`

func scanItem(row pgx.Row, item *domain.OrderItem) error {
	return row.Scan(
		&item.ID,
		&item.OrderID,
		&item.ProductID,
		&item.ProductName,
		&item.UnitPrice,
		&item.Quantity,
		&item.IsDeleted,
		&item.DeletedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
}

func (r *orderRepo) ListOrders(ctx context.Context, filter domain.ListFilter) ([]domain.Order, int64, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListOrders")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("page", filter.Page),
		attribute.Int64("page_size", filter.PageSize),
		attribute.String("status", string(filter.Status)),
	)

	var (
		where = []string{"is_deleted = FALSE"}
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.MinTotal != nil {
		add("total >= $%d", *filter.MinTotal)
	}
	if filter.MaxTotal != nil {
		add("total <= $%d", *filter.MaxTotal)
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+whereClause, args...).Scan(&total); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to count orders", zap.Error(err))

		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	column := "created_at"
	if filter.SortBy == domain.SortByTotal {
		column = "total"
	}
	direction := "ASC"
	if !filter.Ascending {
		direction = "DESC"
	}

	query := `SELECT id, customer_id, total, status, correlation_id, is_deleted, deleted_at, created_at, updated_at FROM orders` +
		whereClause +
		fmt.Sprintf(" ORDER BY %s %s, id ASC LIMIT $%d OFFSET $%d", column, direction, len(args)+1, len(args)+2)
	args = append(args, filter.PageSize, filter.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to list orders", zap.Error(err))

		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []domain.Order
		ids    []int64
	)
	for rows.Next() {
		var (
			order  domain.Order
			status string
		)
		if err := rows.Scan(
			&order.ID,
			&order.CustomerID,
			&order.Total,
			&status,
			&order.CorrelationID,
			&order.IsDeleted,
			&order.DeletedAt,
			&order.CreatedAt,
			&order.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan order: %w", err)
		}
		order.Status = domain.OrderStatus(status)

		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}

	if len(ids) == 0 {
		return orders, total, nil
	}

	itemRows, err := r.pool.Query(
		ctx,
		`SELECT `+itemColumns+` FROM order_items WHERE order_id = ANY($1) AND is_deleted = FALSE ORDER BY id ASC`,
		ids,
	)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to query order_items", zap.Error(err))

		return nil, 0, fmt.Errorf("failed to query order items: %w", err)
	}
	defer itemRows.Close()

	byID := make(map[int64]*domain.Order, len(orders))
	for i := range orders {
		byID[orders[i].ID] = &orders[i]
	}

	for itemRows.Next() {
		var item domain.OrderItem
		if err := scanItem(itemRows, &item); err != nil {
			return nil, 0, fmt.Errorf("failed to scan order item: %w", err)
		}
		if order, ok := byID[item.OrderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to query order items: %w", err)
	}

	return orders, total, nil
}

// CancelOrder soft deletes the order and every live item with the same
// timestamp and moves the order to Cancelled.
func (r *orderRepo) CancelOrder(ctx context.Context, tx pgx.Tx, orderID int64, deletedAt time.Time) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.CancelOrder")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", orderID))

	queryOrder := `
		UPDATE orders
		SET status = $1, is_deleted = TRUE, deleted_at = $2, updated_at = NOW()
		WHERE id = $3 AND is_deleted = FALSE;
	`

	commandTag, err := tx.Exec(ctx, queryOrder, string(domain.OrderStatusCancelled), deletedAt, orderID)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to cancel order",
			zap.Error(err),
		)

		return fmt.Errorf("failed to cancel order: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		mylogger.Warn(
			ctx,
			r.logger,
			"Order not found",
			zap.Int64("order_id", orderID),
		)

		return ErrOrderNotFound
	}

	queryItems := `
		UPDATE order_items
		SET is_deleted = TRUE, deleted_at = $1, updated_at = NOW()
		WHERE order_id = $2 AND is_deleted = FALSE;
	`

	if _, err := tx.Exec(ctx, queryItems, deletedAt, orderID); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to delete order items",
			zap.Error(err),
		)

		return fmt.Errorf("failed to delete order items: %w", err)
	}

	return nil
}

// describe adds the constraint name to postgres errors so a failed insert
// can be traced back to the schema rule it broke.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName != "" {
		return fmt.Errorf("constraint %s: %w", pgErr.ConstraintName, err)
	}
	return err
}
