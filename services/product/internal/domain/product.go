package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int64           `db:"id" json:"id"`
	Name          string          `db:"name" json:"nome"`
	Description   string          `db:"description" json:"descricao"`
	Price         decimal.Decimal `db:"price" json:"preco"`
	StockQuantity int64           `db:"stock_quantity" json:"quantidadeEstoque"`
	IsDeleted     bool            `db:"is_deleted" json:"-"`
	DeletedAt     *time.Time      `db:"deleted_at" json:"-"`
	CreatedAt     time.Time       `db:"created_at" json:"criadoEm"`
	UpdatedAt     time.Time       `db:"updated_at" json:"atualizadoEm"`
}

// ProductInput is the body accepted by create and update.
type ProductInput struct {
	Name          string          `json:"nome" validate:"required"`
	Description   string          `json:"descricao"`
	Price         decimal.Decimal `json:"preco"`
	StockQuantity int64           `json:"quantidadeEstoque" validate:"gte=0"`
}

type SortField string

const (
	SortByName  SortField = "nome"
	SortByPrice SortField = "preco"
	SortByStock SortField = "quantidadeestoque"
)

type ListFilter struct {
	Page      int64
	PageSize  int64
	Name      string
	SortBy    SortField
	Ascending bool
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	MinStock  *int64
	MaxStock  *int64
}

func (f ListFilter) Offset() int64 {
	return (f.Page - 1) * f.PageSize
}
