package domain

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindServiceUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindServiceUnavailable:
		return "service_unavailable"
	default:
		return "internal"
	}
}

// Error is what the order workflow returns. Transports switch on Kind.
type Error struct {
	Kind    Kind
	Message string
	// Fields is set for validation errors, keyed by request path.
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of err. Errors that did not come from the workflow
// are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func NewValidationError(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "invalid order request", Fields: fields}
}

func NewNotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewUnavailableError(productID int64, err error) *Error {
	return &Error{
		Kind:    KindServiceUnavailable,
		Message: fmt.Sprintf("stock service unavailable while checking product %d", productID),
		Err:     err,
	}
}

func NewInternalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

type InsufficientStock struct {
	ProductID   int64
	ProductName string
	Available   int64
	Requested   int64
}

func (e *InsufficientStock) Error() string {
	return fmt.Sprintf(
		"insufficient stock for product %d (%s): available %d, requested %d",
		e.ProductID, e.ProductName, e.Available, e.Requested,
	)
}

func NewConflictError(stock *InsufficientStock) *Error {
	return &Error{Kind: KindConflict, Message: "order cannot be fulfilled", Err: stock}
}
