package domain

import (
	"github.com/go-playground/validator/v10"
	"github.com/sakashimaa/retail-saga/pkg/utils"
)

func ValidateInput(v *validator.Validate, in ProductInput) error {
	var messages []string

	if err := v.Struct(in); err != nil {
		for _, msg := range utils.FormatValidationError(err) {
			messages = append(messages, msg)
		}
	}

	if !in.Price.IsPositive() {
		messages = append(messages, "preco must be greater than 0")
	}

	if len(messages) > 0 {
		return &ValidationError{Messages: messages}
	}
	return nil
}

func ValidateFilter(f ListFilter) error {
	var messages []string

	if f.Page <= 0 {
		messages = append(messages, "page must be greater than 0")
	}
	if f.PageSize <= 0 {
		messages = append(messages, "pageSize must be greater than 0")
	}
	if f.MinPrice != nil && f.MinPrice.IsNegative() {
		messages = append(messages, "minPrice must not be negative")
	}
	if f.MaxPrice != nil && f.MaxPrice.IsNegative() {
		messages = append(messages, "maxPrice must not be negative")
	}
	if f.MinStock != nil && *f.MinStock < 0 {
		messages = append(messages, "minStock must not be negative")
	}
	if f.MaxStock != nil && *f.MaxStock < 0 {
		messages = append(messages, "maxStock must not be negative")
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		messages = append(messages, "minPrice must not be greater than maxPrice")
	}
	if f.MinStock != nil && f.MaxStock != nil && *f.MinStock > *f.MaxStock {
		messages = append(messages, "minStock must not be greater than maxStock")
	}

	switch f.SortBy {
	case "", SortByName, SortByPrice, SortByStock:
	default:
		messages = append(messages, "sortBy must be one of nome, preco, quantidadeestoque")
	}

	if len(messages) > 0 {
		return &ValidationError{Messages: messages}
	}
	return nil
}
