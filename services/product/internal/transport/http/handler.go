package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/retail-saga/pkg/mylogger"
	"github.com/sakashimaa/retail-saga/services/product/internal/domain"
	"github.com/sakashimaa/retail-saga/services/product/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ProductView struct {
	ID                int64       `json:"id"`
	Nome              string      `json:"nome"`
	Descricao         string      `json:"descricao"`
	Preco             json.Number `json:"preco"`
	QuantidadeEstoque int64       `json:"quantidadeEstoque"`
}

func toView(p *domain.Product) ProductView {
	return ProductView{
		ID:                p.ID,
		Nome:              p.Name,
		Descricao:         p.Description,
		Preco:             json.Number(p.Price.String()),
		QuantidadeEstoque: p.StockQuantity,
	}
}

type ProductHandler struct {
	service service.ProductService
	logger  *zap.Logger
}

func NewProductHandler(service service.ProductService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		service: service,
		logger:  logger,
	}
}

func (h *ProductHandler) FindByID(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}

	product, err := h.service.FindByID(c.UserContext(), int64(id))
	if err != nil {
		return h.writeError(c, "find product failed", err)
	}

	return c.JSON(toView(product))
}

func (h *ProductHandler) List(c *fiber.Ctx) error {
	filter := domain.ListFilter{
		Page:      int64(c.QueryInt("page", 1)),
		PageSize:  int64(c.QueryInt("pageSize", 10)),
		Name:      c.Query("name"),
		SortBy:    domain.SortField(c.Query("sortBy")),
		Ascending: c.QueryBool("ascending", true),
	}

	var err error
	if filter.MinPrice, err = queryDecimal(c, "minPrice"); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if filter.MaxPrice, err = queryDecimal(c, "maxPrice"); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if filter.MinStock, err = queryInt64(c, "minStock"); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if filter.MaxStock, err = queryInt64(c, "maxStock"); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	products, total, err := h.service.List(c.UserContext(), filter)
	if err != nil {
		return h.writeError(c, "list products failed", err)
	}

	views := make([]ProductView, 0, len(products))
	for i := range products {
		views = append(views, toView(&products[i]))
	}

	c.Set("X-Total-Count", strconv.FormatInt(total, 10))
	return c.JSON(views)
}

func (h *ProductHandler) Create(c *fiber.Ctx) error {
	var input domain.ProductInput
	if err := c.BodyParser(&input); err != nil {
		h.logger.Warn("failed to parse body in create", zap.Error(err))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "error parsing body"})
	}

	product, err := h.service.Create(c.UserContext(), input)
	if err != nil {
		return h.writeError(c, "create product failed", err)
	}

	c.Location(fmt.Sprintf("/api/Produto/ObterPorId/%d", product.ID))
	return c.Status(fiber.StatusCreated).JSON(toView(product))
}

func (h *ProductHandler) Update(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}

	var input domain.ProductInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "error parsing body"})
	}

	product, err := h.service.Update(c.UserContext(), int64(id), input)
	if err != nil {
		return h.writeError(c, "update product failed", err)
	}

	return c.JSON(toView(product))
}

func (h *ProductHandler) Delete(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}

	if err := h.service.Delete(c.UserContext(), int64(id)); err != nil {
		return h.writeError(c, "delete product failed", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ProductHandler) writeError(c *fiber.Ctx, msg string, err error) error {
	var verr *domain.ValidationError

	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"messages": verr.Messages})
	case errors.Is(err, domain.ErrProductNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "product not found"})
	default:
		mylogger.Error(c.UserContext(), h.logger, msg, zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
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

func queryInt64(c *fiber.Ctx, key string) (*int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", key)
	}
	return &v, nil
}
