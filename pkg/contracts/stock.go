package contracts

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const StockQueue = "update_stock_queue"

// StockAdjustmentMessage is the body published on the stock queue. Negative
// quantities decrement inventory, positive ones restore it.
type StockAdjustmentMessage struct {
	CorrelationID uuid.UUID             `json:"correlationId"`
	Items         []StockAdjustmentItem `json:"itens"`
}

type StockAdjustmentItem struct {
	ProductID int64 `json:"idProduto"`
	Quantity  int64 `json:"quantidade"`
}

type Line struct {
	ProductID int64
	Quantity  int64
}

func NewStockDecrement(correlationID uuid.UUID, lines []Line) StockAdjustmentMessage {
	return newAdjustment(correlationID, lines, -1)
}

// NewStockRestore builds the compensating message for lines previously
// decremented.
func NewStockRestore(correlationID uuid.UUID, lines []Line) StockAdjustmentMessage {
	return newAdjustment(correlationID, lines, 1)
}

func newAdjustment(correlationID uuid.UUID, lines []Line, sign int64) StockAdjustmentMessage {
	items := make([]StockAdjustmentItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, StockAdjustmentItem{
			ProductID: l.ProductID,
			Quantity:  sign * l.Quantity,
		})
	}

	return StockAdjustmentMessage{
		CorrelationID: correlationID,
		Items:         items,
	}
}

func DecodeStockAdjustment(body []byte) (StockAdjustmentMessage, error) {
	var msg StockAdjustmentMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return StockAdjustmentMessage{}, fmt.Errorf("decode stock adjustment: %w", err)
	}

	return msg, nil
}
