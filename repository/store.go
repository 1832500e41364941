package repository

import (
	"context"
	"errors"

	"seed-order-service/models"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
	maxPage          = 1 << 20 // keeps (page-1)*limit far from int overflow
)

// Store is the durable order store. Every multi-statement unit of work goes
// through WithTx; the remaining methods are single-statement reads or updates.
type Store interface {
	// WithTx borrows one connection, runs fn inside a transaction on it and
	// commits when fn returns nil. Any error (or panic) rolls back. The
	// connection is returned to the pool on every exit path.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int64, error)
	UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) error
	UpdateStatusIf(ctx context.Context, id int64, from, to models.OrderStatus) (bool, error)
	Statistics(ctx context.Context) (*models.OrderStatistics, error)
	Ping(ctx context.Context) error
}

// Tx is the statement set available inside one transaction.
type Tx interface {
	InsertOrder(ctx context.Context, o *models.Order) (int64, error)
	InsertItem(ctx context.Context, orderID int64, item models.OrderItem) error
	// DecrementStock subtracts qty only when stock >= qty and reports whether
	// a row was changed.
	DecrementStock(ctx context.Context, productID int64, qty int) (bool, error)
	IncrementStock(ctx context.Context, productID int64, qty int) error
	// ProductStock returns ErrNotFound when the product does not exist.
	ProductStock(ctx context.Context, productID int64) (int, error)
	// LockOrder reads the order header and items, locking the header row
	// until the transaction ends.
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
	DeleteItems(ctx context.Context, orderID int64) error
	DeleteOrder(ctx context.Context, id int64) (bool, error)
}

// NormalizePage applies the default and maximum page size and caps the page
// number.
func NormalizePage(f models.OrderFilter) models.OrderFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > maxPage {
		f.Page = maxPage
	}
	if f.Limit < 1 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	return f
}
