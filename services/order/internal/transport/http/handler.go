package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sakashimaa/retail-saga/pkg/mylogger"
	"github.com/sakashimaa/retail-saga/services/order/internal/client"
	"github.com/sakashimaa/retail-saga/services/order/internal/domain"
	"github.com/sakashimaa/retail-saga/services/order/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderItemView struct {
	ID          int64       `json:"id"`
	ProductID   int64       `json:"idProduto"`
	ProductName string      `json:"nomeProduto"`
	UnitPrice   json.Number `json:"precoUnitario"`
	Quantity    int64       `json:"quantidade"`
}

type OrderView struct {
	ID            int64           `json:"id"`
	CustomerID    int64           `json:"idCliente"`
	Total         json.Number     `json:"valorTotal"`
	Status        string          `json:"status"`
	CorrelationID uuid.UUID       `json:"correlationId"`
	CreatedAt     time.Time       `json:"criadoEm"`
	Items         []OrderItemView `json:"itens"`
}

func toView(o *domain.Order) OrderView {
	items := make([]OrderItemView, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemView{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   json.Number(item.UnitPrice.StringFixed(2)),
			Quantity:    item.Quantity,
		})
	}

	return OrderView{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		Total:         json.Number(o.Total.StringFixed(2)),
		Status:        string(o.Status),
		CorrelationID: o.CorrelationID,
		CreatedAt:     o.CreatedAt,
		Items:         items,
	}
}

type OrderHandler struct {
	service service.OrderService
	logger  *zap.Logger
}

func NewOrderHandler(service service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		logger:  logger,
	}
}

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	var input domain.CreateOrderInput
	if err := c.BodyParser(&input); err != nil {
		h.logger.Warn("failed to parse body in create order", zap.Error(err))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "error parsing body"})
	}

	// The caller's credentials follow the stock queries.
	ctx := client.WithAuthorization(c.UserContext(), c.Get(fiber.HeaderAuthorization))

	order, err := h.service.CreateOrder(ctx, input)
	if err != nil {
		return h.writeError(c, "create order failed", err)
	}

	c.Location(fmt.Sprintf("/api/Pedido/ObterPorId/%d", order.ID))
	return c.Status(fiber.StatusCreated).JSON(toView(order))
}

func (h *OrderHandler) FindByID(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}

	order, err := h.service.GetOrder(c.UserContext(), int64(id))
	if err != nil {
		return h.writeError(c, "find order failed", err)
	}

	return c.JSON(toView(order))
}

func (h *OrderHandler) List(c *fiber.Ctx) error {
	filter := domain.ListFilter{
		Page:      int64(c.QueryInt("page", 1)),
		PageSize:  int64(c.QueryInt("pageSize", 10)),
		SortBy:    domain.SortField(strings.ToLower(c.Query("sortBy"))),
		Ascending: c.QueryBool("ascending", true),
		Status:    domain.OrderStatus(c.Query("status")),
	}

	var err error
	if filter.MinTotal, err = queryDecimal(c, "minTotal"); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if filter.MaxTotal, err = queryDecimal(c, "maxTotal"); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	orders, total, err := h.service.ListOrders(c.UserContext(), filter)
	if err != nil {
		return h.writeError(c, "list orders failed", err)
	}

	views := make([]OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, toView(&orders[i]))
	}

	c.Set("X-Total-Count", strconv.FormatInt(total, 10))
	return c.JSON(views)
}

func (h *OrderHandler) Cancel(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}

	if err := h.service.CancelOrder(c.UserContext(), int64(id)); err != nil {
		return h.writeError(c, "cancel order failed", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func queryDecimal(c *fiber.Ctx, key string) (*decimal.Decimal, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &d, nil
}

func (h *OrderHandler) writeError(c *fiber.Ctx, msg string, err error) error {
	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		domainErr = domain.NewInternalError(msg, err)
	}

	switch domainErr.Kind {
	case domain.KindValidation:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  domainErr.Message,
			"fields": domainErr.Fields,
		})
	case domain.KindNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": domainErr.Message})
	case domain.KindConflict:
		body := fiber.Map{"error": err.Error()}

		var shortage *domain.InsufficientStock
		if errors.As(err, &shortage) {
			body["idProduto"] = shortage.ProductID
			body["disponivel"] = shortage.Available
			body["solicitado"] = shortage.Requested
		}

		return c.Status(fiber.StatusConflict).JSON(body)
	case domain.KindServiceUnavailable:
		mylogger.Warn(c.UserContext(), h.logger, msg, zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": domainErr.Message})
	default:
		mylogger.Error(c.UserContext(), h.logger, msg, zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
