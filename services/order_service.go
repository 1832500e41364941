package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"seed-order-service/models"
	"seed-order-service/repository"
)

// EventPublisher delivers order events after a change has been committed.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent, priority uint8) error
	PublishDelayedEvent(ctx context.Context, event models.OrderEvent, delay time.Duration) error
}

var highValueOrder = decimal.NewFromInt(1000)

// OrderService owns the order lifecycle: every change to an order and the
// matching product stock adjustment commit in one store transaction.
type OrderService struct {
	store          repository.Store
	events         EventPublisher
	paymentTimeout time.Duration
	log            *slog.Logger
	now            func() time.Time
	orderNumber    func(time.Time) string
}

type Option func(*OrderService)

// WithEvents publishes order events through p. A positive paymentTimeout
// also schedules a delayed payment check for every new order.
func WithEvents(p EventPublisher, paymentTimeout time.Duration) Option {
	return func(s *OrderService) {
		s.events = p
		s.paymentTimeout = paymentTimeout
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *OrderService) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

func NewOrderService(store repository.Store, opts ...Option) *OrderService {
	s := &OrderService{
		store: store,
		log:         slog.Default(),
		now:         time.Now,
		orderNumber: GenerateOrderNumber,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// generatedNumberAttempts bounds how often Create draws a fresh order number
// after a generated one collides.
const generatedNumberAttempts = 3

// Create validates the payload, then inserts the order header and its items
// and debits stock for every item in one transaction. A generated order
// number that collides is redrawn; a caller-supplied one fails with Conflict.
func (s *OrderService) Create(ctx context.Context, in models.OrderInput) (*models.Order, error) {
	generated := in.OrderNumber == ""
	if generated {
		in.OrderNumber = s.orderNumber(s.now())
	}
	if errs := ValidateOrder(in); len(errs) > 0 {
		return nil, validationError(errs)
	}

	order := buildOrder(in)
	if in.Status == nil {
		order.Status = models.StatusPending
	}

	var (
		orderID int64
		err     error
	)
	for attempt := 1; ; attempt++ {
		orderID, err = s.insertOrder(ctx, order)
		if !errors.Is(err, repository.ErrDuplicateOrderNumber) {
			break
		}
		if !generated {
			err = conflictError(order.OrderNumber)
			break
		}
		if attempt == generatedNumberAttempts {
			err = fmt.Errorf("no unique order number after %d attempts: %w", attempt, err)
			break
		}
		s.log.Debug("generated order number taken, retrying", "order_number", order.OrderNumber)
		order.OrderNumber = s.orderNumber(s.now())
	}
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateOrderNumber) {
			err = storeError("create order", err)
		}
		return nil, s.fail("create order", err, "order_number", order.OrderNumber)
	}

	created, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeError("load order", err)
	}
	s.log.Info("order created", "order_id", created.ID, "order_number", created.OrderNumber,
		"items", len(created.Items), "total", created.Total.String())

	s.publish(ctx, created, models.EventCreated)
	if s.events != nil && s.paymentTimeout > 0 {
		if err := s.events.PublishDelayedEvent(ctx, newEvent(created, models.EventPaymentCheck, s.now()), s.paymentTimeout); err != nil {
			s.log.Warn("failed to schedule payment check", "order_id", created.ID, "error", err)
		}
	}
	return created, nil
}

// insertOrder writes the header and items and debits stock in one
// transaction. Products are debited in ascending id order so concurrent
// orders lock product rows in the same sequence.
func (s *OrderService) insertOrder(ctx context.Context, order *models.Order) (int64, error) {
	var orderID int64
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		for _, item := range order.Items {
			if err := tx.InsertItem(ctx, id, item); err != nil {
				return err
			}
		}
		for _, item := range debitOrder(order.Items) {
			if err := debitStock(ctx, tx, item); err != nil {
				return err
			}
		}
		orderID = id
		return nil
	})
	return orderID, err
}

// debitOrder returns a copy of items sorted by product id. Equal ids keep
// their payload order.
func debitOrder(items []models.OrderItem) []models.OrderItem {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b models.OrderItem) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return sorted
}

// debitStock runs the conditional decrement and, when it matches no row,
// tells a missing product apart from a short one.
func debitStock(ctx context.Context, tx repository.Tx, item models.OrderItem) error {
	ok, err := tx.DecrementStock(ctx, item.ProductID, item.Quantity)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	available, err := tx.ProductStock(ctx, item.ProductID)
	if errors.Is(err, repository.ErrNotFound) {
		return productNotFoundError(item.ProductID, item.ProductName)
	}
	if err != nil {
		return err
	}
	return insufficientStockError(item.ProductID, item.ProductName, item.Quantity, available)
}

// Replace rewrites the order header and swaps the item set. Stock is left as
// it is for both the previous and the new items.
func (s *OrderService) Replace(ctx context.Context, id int64, in models.OrderInput) (*models.Order, error) {
	if errs := validateOrder(in, in.OrderNumber != ""); len(errs) > 0 {
		return nil, validationError(errs)
	}

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		current, err := tx.LockOrder(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundError("Order", id)
		}
		if err != nil {
			return err
		}

		order := buildOrder(in)
		order.ID = id
		if in.OrderNumber == "" {
			order.OrderNumber = current.OrderNumber
		}
		if in.Status == nil {
			order.Status = current.Status
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			if errors.Is(err, repository.ErrDuplicateOrderNumber) {
				return conflictError(order.OrderNumber)
			}
			return err
		}
		if err := tx.DeleteItems(ctx, id); err != nil {
			return err
		}
		for _, item := range order.Items {
			if err := tx.InsertItem(ctx, id, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("update order", err, "order_id", id)
	}

	updated, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, storeError("load order", err)
	}
	s.log.Info("order updated", "order_id", id, "items", len(updated.Items), "total", updated.Total.String())
	s.publish(ctx, updated, models.EventUpdated)
	return updated, nil
}

// Delete restocks every item of the order and removes it. Shipped and
// delivered orders cannot be deleted.
func (s *OrderService) Delete(ctx context.Context, id int64) error {
	var deleted *models.Order
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		current, err := tx.LockOrder(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundError("Order", id)
		}
		if err != nil {
			return err
		}
		if current.Status == models.StatusShipped || current.Status == models.StatusDelivered {
			return validationError([]string{"Cannot delete shipped or delivered orders"})
		}

		for _, item := range current.Items {
			if err := tx.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		if err := tx.DeleteItems(ctx, id); err != nil {
			return err
		}
		ok, err := tx.DeleteOrder(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return notFoundError("Order", id)
		}
		deleted = current
		return nil
	})
	if err != nil {
		return s.fail("delete order", err, "order_id", id)
	}

	s.log.Info("order deleted", "order_id", id, "restocked_items", len(deleted.Items))
	s.publish(ctx, deleted, models.EventDeleted)
	return nil
}

// UpdateStatus sets the status without touching stock. Any valid status is
// accepted from any other.
func (s *OrderService) UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, validationError([]string{fmt.Sprintf("Invalid status %q", status)})
	}
	if err := s.store.UpdateStatus(ctx, id, status); err != nil {
		return nil, s.fail("update order status", err, "order_id", id)
	}

	updated, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, s.fail("load order", err, "order_id", id)
	}
	s.log.Info("order status updated", "order_id", id, "status", status)
	s.publish(ctx, updated, models.EventStatusUpdated)
	return updated, nil
}

// CancelIfPending cancels an order that is still pending and reports whether
// it did. Stock is not restored, matching UpdateStatus.
func (s *OrderService) CancelIfPending(ctx context.Context, id int64) (bool, error) {
	ok, err := s.store.UpdateStatusIf(ctx, id, models.StatusPending, models.StatusCancelled)
	if err != nil {
		return false, s.fail("cancel order", err, "order_id", id)
	}
	if !ok {
		return false, nil
	}
	s.log.Info("pending order cancelled", "order_id", id)
	if updated, err := s.store.GetOrder(ctx, id); err == nil {
		s.publish(ctx, updated, models.EventStatusUpdated)
	}
	return true, nil
}

func (s *OrderService) Get(ctx context.Context, id int64) (*models.Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("Order", id)
		}
		return nil, storeError("get order", err)
	}
	return o, nil
}

func (s *OrderService) GetByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	o, err := s.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("Order", orderNumber)
		}
		return nil, storeError("get order", err)
	}
	return o, nil
}

func (s *OrderService) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, validationError([]string{fmt.Sprintf("Invalid status %q", filter.Status)})
	}
	orders, total, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, 0, storeError("list orders", err)
	}
	return orders, total, nil
}

func (s *OrderService) Statistics(ctx context.Context) (*models.OrderStatistics, error) {
	stats, err := s.store.Statistics(ctx)
	if err != nil {
		return nil, storeError("load order statistics", err)
	}
	return stats, nil
}

// fail converts a store or business error into an *OrderError and logs
// business rejections at warn level.
func (s *OrderService) fail(op string, err error, attrs ...any) error {
	var oe *OrderError
	switch {
	case errors.As(err, &oe):
	case errors.Is(err, repository.ErrNotFound):
		oe = &OrderError{Kind: KindNotFound, Message: "Order not found"}
	case errors.Is(err, repository.ErrDuplicateOrderNumber):
		oe = &OrderError{Kind: KindConflict, Message: "Order number already exists"}
	default:
		oe = storeError(op, err)
	}

	attrs = append(attrs, "kind", oe.Kind.String(), "error", oe.Error())
	if oe.Kind == KindStore || oe.Kind == KindUnavailable {
		s.log.Error(op+" failed", attrs...)
	} else {
		s.log.Warn(op+" rejected", attrs...)
	}
	return oe
}

func (s *OrderService) publish(ctx context.Context, o *models.Order, eventType string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, newEvent(o, eventType, s.now()), eventPriority(o, eventType)); err != nil {
		s.log.Warn("failed to publish order event", "order_id", o.ID, "type", eventType, "error", err)
	}
}

func eventPriority(o *models.Order, eventType string) uint8 {
	switch {
	case eventType == models.EventCreated && o.Total.GreaterThan(highValueOrder):
		return 9
	case eventType == models.EventStatusUpdated && o.Status == models.StatusCancelled:
		return 8
	default:
		return 5
	}
}

func newEvent(o *models.Order, eventType string, now time.Time) models.OrderEvent {
	return models.OrderEvent{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Type:        eventType,
		Status:      o.Status,
		Total:       o.Total,
		Occurred:    now.UTC(),
	}
}

func buildOrder(in models.OrderInput) *models.Order {
	lines, subtotal, total := CalculateTotals(in.Items, in.ShippingCost)
	o := &models.Order{
		OrderNumber:       in.OrderNumber,
		CustomerFirstName: in.CustomerFirstName,
		CustomerLastName:  in.CustomerLastName,
		CustomerEmail:     in.CustomerEmail,
		CustomerPhone:     in.CustomerPhone,
		ShippingAddress:   in.ShippingAddress,
		ShippingCity:      in.ShippingCity,
		ShippingPostal:    in.ShippingPostal,
		ShippingProvince:  in.ShippingProvince,
		Subtotal:          subtotal,
		ShippingCost:      in.ShippingCost.Round(2),
		Total:             total,
		Items:             make([]models.OrderItem, len(in.Items)),
	}
	if in.Status != nil {
		o.Status = *in.Status
	}
	for i, item := range in.Items {
		o.Items[i] = models.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
			TotalPrice:  lines[i],
		}
	}
	return o
}
