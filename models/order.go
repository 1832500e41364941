package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

// OrderStatuses lists every accepted status in lifecycle order.
var OrderStatuses = []OrderStatus{
	StatusPending,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

func (s OrderStatus) Valid() bool {
	for _, v := range OrderStatuses {
		if s == v {
			return true
		}
	}
	return false
}

type Order struct {
	ID                int64           `json:"id"`
	OrderNumber       string          `json:"order_number"`
	CustomerFirstName string          `json:"customer_first_name"`
	CustomerLastName  string          `json:"customer_last_name"`
	CustomerEmail     string          `json:"customer_email"`
	CustomerPhone     string          `json:"customer_phone"`
	ShippingAddress   string          `json:"shipping_address"`
	ShippingCity      string          `json:"shipping_city"`
	ShippingPostal    string          `json:"shipping_postal_code"`
	ShippingProvince  string          `json:"shipping_province"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	ShippingCost      decimal.Decimal `json:"shipping_cost"`
	Total             decimal.Decimal `json:"total"`
	Status            OrderStatus     `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Items             []OrderItem     `json:"items"`
}

type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// OrderInput is the caller payload for create and replace. Optional fields
// are the empty string (or nil status) when omitted.
type OrderInput struct {
	OrderNumber       string          `json:"order_number"`
	CustomerFirstName string          `json:"customer_first_name"`
	CustomerLastName  string          `json:"customer_last_name"`
	CustomerEmail     string          `json:"customer_email"`
	CustomerPhone     string          `json:"customer_phone"`
	ShippingAddress   string          `json:"shipping_address"`
	ShippingCity      string          `json:"shipping_city"`
	ShippingPostal    string          `json:"shipping_postal_code"`
	ShippingProvince  string          `json:"shipping_province"`
	ShippingCost      decimal.Decimal `json:"shipping_cost"`
	Status            *OrderStatus    `json:"status,omitempty"`
	Items             []ItemInput     `json:"items"`
}

type ItemInput struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type OrderFilter struct {
	Status        OrderStatus
	CustomerEmail string
	OrderNumber   string
	Page          int
	Limit         int
}

type OrderStatistics struct {
	TotalOrders       int64                 `json:"total_orders"`
	TotalRevenue      decimal.Decimal       `json:"total_revenue"`
	AverageOrderValue decimal.Decimal       `json:"average_order_value"`
	ByStatus          map[OrderStatus]int64 `json:"by_status"`
}

type OrderEvent struct {
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Type        string          `json:"type"` // created, updated, status_updated, deleted, payment_check
	Status      OrderStatus     `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Occurred    time.Time       `json:"occurred"`
}

const (
	EventCreated       = "created"
	EventUpdated       = "updated"
	EventStatusUpdated = "status_updated"
	EventDeleted       = "deleted"
	EventPaymentCheck  = "payment_check"
)
