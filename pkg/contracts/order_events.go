package contracts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	OrderAggregate = "order"

	EventOrderCreated    = "OrderCreated"
	EventOrderCancelled  = "OrderCancelled"
	EventStockAdjustment = "StockAdjustmentRequested"
)

type OrderEventItem struct {
	ProductID   int64           `json:"idProduto"`
	ProductName string          `json:"nomeProduto"`
	UnitPrice   decimal.Decimal `json:"precoUnitario"`
	Quantity    int64           `json:"quantidade"`
}

type OrderCreatedEvent struct {
	CorrelationID uuid.UUID        `json:"correlationId"`
	OrderID       int64            `json:"pedidoId"`
	CustomerID    int64            `json:"clienteId"`
	Total         decimal.Decimal  `json:"valorTotal"`
	Items         []OrderEventItem `json:"itens"`
	CreatedAt     time.Time        `json:"criadoEm"`
}

type OrderCancelledEvent struct {
	CorrelationID uuid.UUID        `json:"correlationId"`
	OrderID       int64            `json:"pedidoId"`
	Items         []OrderEventItem `json:"itens"`
	CancelledAt   time.Time        `json:"canceladoEm"`
}
