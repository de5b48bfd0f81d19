package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/retail-saga/pkg/config"
	"github.com/sakashimaa/retail-saga/pkg/contracts"
	"github.com/sakashimaa/retail-saga/pkg/db"
	"github.com/sakashimaa/retail-saga/pkg/metrics"
	"github.com/sakashimaa/retail-saga/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/retail-saga/pkg/outbox/domain"
	"github.com/sakashimaa/retail-saga/pkg/outbox/worker"
	"github.com/sakashimaa/retail-saga/pkg/utils"
	"github.com/sakashimaa/retail-saga/services/order/internal/client"
	"github.com/sakashimaa/retail-saga/services/order/internal/domain"
	"github.com/sakashimaa/retail-saga/services/order/internal/publisher"
	"github.com/sakashimaa/retail-saga/services/order/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateOrder(ctx context.Context, input domain.CreateOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.ListFilter) ([]domain.Order, int64, error)
	CancelOrder(ctx context.Context, orderID int64) error
}

type StockPublisher interface {
	Publish(ctx context.Context, msg contracts.StockAdjustmentMessage) error
}

type Options struct {
	// PublishMode is config.PublishModeDirect or config.PublishModeOutbox.
	PublishMode      string
	StockQueue       string
	OrderEventsTopic string
}

type orderService struct {
	transactor db.Transactor
	orderRepo  repository.OrderRepository
	outboxRepo worker.OutboxRepository
	stock      client.StockClient
	publisher  StockPublisher
	validate   *validator.Validate
	metrics    *metrics.Saga
	logger     *zap.Logger
	tracer     trace.Tracer
	opts       Options
}

func NewOrderService(
	transactor db.Transactor,
	orderRepo repository.OrderRepository,
	outboxRepo worker.OutboxRepository,
	stock client.StockClient,
	publisher StockPublisher,
	validate *validator.Validate,
	m *metrics.Saga,
	logger *zap.Logger,
	opts Options,
) OrderService {
	if opts.PublishMode == "" {
		opts.PublishMode = config.PublishModeDirect
	}
	if opts.StockQueue == "" {
		opts.StockQueue = contracts.StockQueue
	}
	if opts.OrderEventsTopic == "" {
		opts.OrderEventsTopic = "order_events"
	}

	return &orderService{
		transactor: transactor,
		orderRepo:  orderRepo,
		outboxRepo: outboxRepo,
		stock:      stock,
		publisher:  publisher,
		validate:   validate,
		metrics:    m,
		logger:     logger,
		tracer:     otel.Tracer("order_service"),
		opts:       opts,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, input domain.CreateOrderInput) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()
	defer func() { s.record("create", span, err) }()

	span.SetAttributes(
		attribute.Int64("customer_id", input.CustomerID),
		attribute.Int("lines", len(input.Items)),
	)

	if err := s.validate.Struct(input); err != nil {
		return nil, domain.NewValidationError(utils.FormatValidationError(err))
	}

	// Lines are checked one at a time so the first failing line wins.
	items := make([]domain.OrderItem, 0, len(input.Items))
	for _, line := range input.Items {
		product, err := s.checkLine(ctx, line)
		if err != nil {
			return nil, err
		}

		items = append(items, domain.OrderItem{
			ProductID:   line.ProductID,
			ProductName: product.Name,
			UnitPrice:   product.Price,
			Quantity:    line.Quantity,
		})
	}

	order = &domain.Order{
		CustomerID:    input.CustomerID,
		Status:        domain.OrderStatusConfirmed,
		CorrelationID: uuid.New(),
		Items:         items,
	}
	order.CalculateTotal()

	ctx = mylogger.WithCorrelationID(ctx, order.CorrelationID.String())
	span.SetAttributes(attribute.String("correlation_id", order.CorrelationID.String()))

	decrement := contracts.NewStockDecrement(order.CorrelationID, linesOf(order.Items))

	if s.opts.PublishMode == config.PublishModeDirect {
		s.publishStock(ctx, "decrement", decrement)
	}

	err = s.transactor.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.orderRepo.CreateOrder(ctx, tx, order); err != nil {
			return err
		}

		if s.opts.PublishMode == config.PublishModeOutbox {
			if err := s.saveStockAdjustment(ctx, tx, order.ID, decrement); err != nil {
				return err
			}
		}

		return s.emitEvent(ctx, tx, order.ID, contracts.EventOrderCreated, contracts.OrderCreatedEvent{
			CorrelationID: order.CorrelationID,
			OrderID:       order.ID,
			CustomerID:    order.CustomerID,
			Total:         order.Total,
			Items:         eventItems(order.Items),
			CreatedAt:     order.CreatedAt,
		})
	})
	if err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to persist order",
			zap.Int64("customer_id", order.CustomerID),
			zap.Error(err),
		)

		return nil, domain.NewInternalError("failed to persist order", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order created",
		zap.Int64("order_id", order.ID),
		zap.String("total", order.Total.StringFixed(2)),
	)

	return order, nil
}

func (s *orderService) checkLine(ctx context.Context, line domain.LineInput) (*domain.ProductSnapshot, error) {
	product, err := s.stock.FetchProduct(ctx, line.ProductID)
	if err != nil {
		if errors.Is(err, client.ErrProductNotFound) {
			mylogger.Warn(
				ctx,
				s.logger,
				"Product not found",
				zap.Int64("product_id", line.ProductID),
			)

			return nil, domain.NewNotFoundError("product %d not found", line.ProductID)
		}

		return nil, domain.NewUnavailableError(line.ProductID, err)
	}

	if product.StockQuantity < line.Quantity {
		mylogger.Warn(
			ctx,
			s.logger,
			"Insufficient stock",
			zap.Int64("product_id", line.ProductID),
			zap.Int64("available", product.StockQuantity),
			zap.Int64("requested", line.Quantity),
		)

		return nil, domain.NewConflictError(&domain.InsufficientStock{
			ProductID:   line.ProductID,
			ProductName: product.Name,
			Available:   product.StockQuantity,
			Requested:   line.Quantity,
		})
	}

	return product, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", orderID))

	if orderID <= 0 {
		return nil, domain.NewNotFoundError("order %d not found", orderID)
	}

	order, err := s.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, domain.NewNotFoundError("order %d not found", orderID)
		}

		span.RecordError(err)
		return nil, domain.NewInternalError("failed to load order", err)
	}

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter domain.ListFilter) ([]domain.Order, int64, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()

	if problems := filter.Problems(); len(problems) > 0 {
		return nil, 0, domain.NewValidationError(problems)
	}

	orders, total, err := s.orderRepo.ListOrders(ctx, filter)
	if err != nil {
		span.RecordError(err)
		return nil, 0, domain.NewInternalError("failed to list orders", err)
	}

	return orders, total, nil
}

// CancelOrder compensates the stock taken by the order and soft deletes it.
// The order row stays locked from load to commit so concurrent cancellations
// emit a single restore.
func (s *orderService) CancelOrder(ctx context.Context, orderID int64) (err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CancelOrder")
	defer span.End()
	defer func() { s.record("cancel", span, err) }()

	span.SetAttributes(attribute.Int64("order_id", orderID))

	if orderID <= 0 {
		return domain.NewNotFoundError("order %d not found", orderID)
	}

	err = s.transactor.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		order, err := s.orderRepo.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				mylogger.Warn(
					ctx,
					s.logger,
					"Order not found",
					zap.Int64("order_id", orderID),
				)

				return domain.NewNotFoundError("order %d not found", orderID)
			}

			return err
		}

		// A fresh correlation id keeps the restore distinct from the
		// decrement for consumers that deduplicate on it.
		restore := contracts.NewStockRestore(uuid.New(), linesOf(order.Items))
		ctx = mylogger.WithCorrelationID(ctx, restore.CorrelationID.String())

		if s.opts.PublishMode == config.PublishModeDirect {
			s.publishStock(ctx, "restore", restore)
		} else if err := s.saveStockAdjustment(ctx, tx, order.ID, restore); err != nil {
			return err
		}

		cancelledAt := time.Now().UTC()
		if err := s.orderRepo.CancelOrder(ctx, tx, order.ID, cancelledAt); err != nil {
			return err
		}

		return s.emitEvent(ctx, tx, order.ID, contracts.EventOrderCancelled, contracts.OrderCancelledEvent{
			CorrelationID: restore.CorrelationID,
			OrderID:       order.ID,
			Items:         eventItems(order.Items),
			CancelledAt:   cancelledAt,
		})
	})
	if err != nil {
		var domainErr *domain.Error
		if errors.As(err, &domainErr) {
			return domainErr
		}

		mylogger.Error(
			ctx,
			s.logger,
			"Cancel order failed",
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)

		return domain.NewInternalError("failed to cancel order", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order cancelled",
		zap.Int64("order_id", orderID),
	)

	return nil
}

// publishStock sends the adjustment straight to the broker. A failure is
// logged and counted; the order operation carries on regardless.
func (s *orderService) publishStock(ctx context.Context, kind string, msg contracts.StockAdjustmentMessage) {
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.metrics.StockPublish.WithLabelValues(kind, "failed").Inc()

		mylogger.Error(
			ctx,
			s.logger,
			"Stock adjustment not published, inventory may drift",
			zap.String("kind", kind),
			zap.Int("items", len(msg.Items)),
			zap.Error(err),
		)

		return
	}

	s.metrics.StockPublish.WithLabelValues(kind, "ok").Inc()
}

func (s *orderService) saveStockAdjustment(ctx context.Context, tx pgx.Tx, orderID int64, msg contracts.StockAdjustmentMessage) error {
	event, err := outboxDomain.NewOutboxEvent(
		contracts.OrderAggregate,
		strconv.FormatInt(orderID, 10),
		contracts.EventStockAdjustment,
		s.opts.StockQueue,
		msg,
		s.outboxHeaders(ctx, msg.CorrelationID),
	)
	if err != nil {
		return err
	}

	if err := s.outboxRepo.SaveOutboxEvent(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to save stock adjustment: %w", err)
	}

	kind := "decrement"
	if len(msg.Items) > 0 && msg.Items[0].Quantity > 0 {
		kind = "restore"
	}
	s.metrics.StockPublish.WithLabelValues(kind, "outbox").Inc()

	return nil
}

// emitEvent stores an integration event for the order_events topic wrapped
// in the envelope Kafka subscribers expect.
func (s *orderService) emitEvent(ctx context.Context, tx pgx.Tx, orderID int64, eventType string, payload any) error {
	correlationID, _ := uuid.Parse(mylogger.CorrelationID(ctx))

	wrapper := map[string]any{
		"event":   eventType,
		"payload": payload,
	}

	event, err := outboxDomain.NewOutboxEvent(
		contracts.OrderAggregate,
		strconv.FormatInt(orderID, 10),
		eventType,
		s.opts.OrderEventsTopic,
		wrapper,
		s.outboxHeaders(ctx, correlationID),
	)
	if err != nil {
		return err
	}

	if err := s.outboxRepo.SaveOutboxEvent(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to save %s event: %w", eventType, err)
	}

	return nil
}

func (s *orderService) outboxHeaders(ctx context.Context, correlationID uuid.UUID) map[string]string {
	headers := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, headers)
	headers[publisher.HeaderCorrelationID] = correlationID.String()
	return headers
}

func (s *orderService) record(operation string, span trace.Span, err error) {
	result := "ok"
	if err != nil {
		result = domain.KindOf(err).String()
		span.RecordError(err)
	}
	s.metrics.Orders.WithLabelValues(operation, result).Inc()
}

func linesOf(items []domain.OrderItem) []contracts.Line {
	lines := make([]contracts.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, contracts.Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func eventItems(items []domain.OrderItem) []contracts.OrderEventItem {
	out := make([]contracts.OrderEventItem, 0, len(items))
	for _, item := range items {
		out = append(out, contracts.OrderEventItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
		})
	}
	return out
}
