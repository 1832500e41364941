package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindStore Kind = iota
	KindValidation
	KindNotFound
	KindInsufficientStock
	KindProductNotFound
	KindConflict
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindProductNotFound:
		return "product_not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "store"
	}
}

// OrderError is the only error type returned by OrderService.
type OrderError struct {
	Kind    Kind
	Message string
	// Details holds every field-level message of a validation failure.
	Details []string

	ProductID int64
	Requested int
	Available int

	Err error
}

func (e *OrderError) Error() string {
	msg := e.Message
	if len(e.Details) > 0 {
		msg += ": " + strings.Join(e.Details, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrderError) Unwrap() error { return e.Err }

// KindOf returns the kind of an OrderError anywhere in err's chain, and
// KindStore for anything else.
func KindOf(err error) Kind {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindStore
}

func validationError(details []string) *OrderError {
	return &OrderError{Kind: KindValidation, Message: "Validation failed", Details: details}
}

func notFoundError(what string, id any) *OrderError {
	return &OrderError{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", what, id)}
}

// insufficientStockError reports the stock read after the debit failed. A
// concurrent restock can raise it past requested, so the shortfall is at least 1.
func insufficientStockError(productID int64, name string, requested, available int) *OrderError {
	short := max(requested-available, 1)
	return &OrderError{
		Kind: KindInsufficientStock,
		Message: fmt.Sprintf("Insufficient stock for product %d (%s): requested %d, available %d, short by %d",
			productID, name, requested, available, short),
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

func productNotFoundError(productID int64, name string) *OrderError {
	return &OrderError{
		Kind:      KindProductNotFound,
		Message:   fmt.Sprintf("Product %d (%s) not found", productID, name),
		ProductID: productID,
	}
}

func conflictError(orderNumber string) *OrderError {
	return &OrderError{Kind: KindConflict, Message: fmt.Sprintf("Order number %s already exists", orderNumber)}
}

// storeError classifies an unexpected store failure. Lost connections and
// expired deadlines are reported as unavailable.
func storeError(op string, err error) *OrderError {
	kind := KindStore
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = KindUnavailable
	}
	return &OrderError{Kind: kind, Message: "Failed to " + op, Err: err}
}
