package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

// Confirmed is the only initial status. Cancelled is terminal.
const (
	OrderStatusConfirmed OrderStatus = "Confirmed"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

type Order struct {
	ID            int64           `db:"id"`
	CustomerID    int64           `db:"customer_id"`
	Total         decimal.Decimal `db:"total"`
	Status        OrderStatus     `db:"status"`
	CorrelationID uuid.UUID       `db:"correlation_id"`
	Items         []OrderItem     `db:"items"`

	IsDeleted bool       `db:"is_deleted"`
	DeletedAt *time.Time `db:"deleted_at"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// OrderItem keeps the name and price the product had when the order was
// placed.
type OrderItem struct {
	ID          int64           `db:"id"`
	OrderID     int64           `db:"order_id"`
	ProductID   int64           `db:"product_id"`
	ProductName string          `db:"product_name"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
	Quantity    int64           `db:"quantity"`

	IsDeleted bool       `db:"is_deleted"`
	DeletedAt *time.Time `db:"deleted_at"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}

func (o *Order) CalculateTotal() {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	o.Total = total
}

// CreateOrderInput is a customer request before any stock has been checked.
type CreateOrderInput struct {
	CustomerID int64       `json:"idCliente" validate:"gt=0"`
	Items      []LineInput `json:"itens" validate:"required,min=1,dive"`
}

type LineInput struct {
	ProductID int64 `json:"idProduto" validate:"gt=0"`
	Quantity  int64 `json:"quantidade" validate:"gt=0"`
}

// ProductSnapshot is what the inventory service reported for a product at
// the moment of the check.
type ProductSnapshot struct {
	ID            int64
	Name          string
	Price         decimal.Decimal
	StockQuantity int64
}

type SortField string

// Orders are listed by creation time unless sorted by total.
const SortByTotal SortField = "valortotal"

// ListFilter selects a page of live orders.
type ListFilter struct {
	Page      int64
	PageSize  int64
	SortBy    SortField
	Ascending bool
	Status    OrderStatus
	MinTotal  *decimal.Decimal
	MaxTotal  *decimal.Decimal
}

func (f ListFilter) Offset() int64 {
	return (f.Page - 1) * f.PageSize
}

// Problems returns the invalid query parameters keyed by name.
func (f ListFilter) Problems() map[string]string {
	problems := map[string]string{}

	if f.Page <= 0 {
		problems["page"] = "page must be greater than 0"
	}
	if f.PageSize <= 0 {
		problems["pageSize"] = "pageSize must be greater than 0"
	}
	if f.MinTotal != nil && f.MinTotal.IsNegative() {
		problems["minTotal"] = "minTotal must not be negative"
	}
	if f.MaxTotal != nil && f.MaxTotal.IsNegative() {
		problems["maxTotal"] = "maxTotal must not be negative"
	}
	if f.MinTotal != nil && f.MaxTotal != nil && f.MinTotal.GreaterThan(*f.MaxTotal) {
		problems["minTotal"] = "minTotal must not be greater than maxTotal"
	}

	switch f.SortBy {
	case "", SortByTotal:
	default:
		problems["sortBy"] = "sortBy must be valortotal or empty"
	}

	switch f.Status {
	case "", OrderStatusConfirmed, OrderStatusCancelled:
	default:
		problems["status"] = "status must be Confirmed or Cancelled"
	}

	return problems
}
