package services

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"seed-order-service/models"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidateOrder checks an order payload and returns every problem found.
// The order number is expected to be filled in already.
func ValidateOrder(in models.OrderInput) []string {
	return validateOrder(in, true)
}

func validateOrder(in models.OrderInput, checkNumber bool) []string {
	var errs []string

	if checkNumber && strings.TrimSpace(in.OrderNumber) == "" {
		errs = append(errs, "Order number is required")
	}
	if strings.TrimSpace(in.CustomerFirstName) == "" {
		errs = append(errs, "Customer first name is required")
	}
	if strings.TrimSpace(in.CustomerLastName) == "" {
		errs = append(errs, "Customer last name is required")
	}
	// the stored value must match, so surrounding spaces are invalid
	switch {
	case strings.TrimSpace(in.CustomerEmail) == "":
		errs = append(errs, "Customer email is required")
	case !emailPattern.MatchString(in.CustomerEmail):
		errs = append(errs, "Customer email is invalid")
	}
	if strings.TrimSpace(in.ShippingAddress) == "" {
		errs = append(errs, "Shipping address is required")
	}
	if in.ShippingCost.IsNegative() {
		errs = append(errs, "Shipping cost cannot be negative")
	}

	if len(in.Items) == 0 {
		errs = append(errs, "Order must contain at least one item")
	}
	for i, item := range in.Items {
		n := i + 1
		if item.ProductID <= 0 {
			errs = append(errs, fmt.Sprintf("Item %d: product is required", n))
		}
		if strings.TrimSpace(item.ProductName) == "" {
			errs = append(errs, fmt.Sprintf("Item %d: product name is required", n))
		}
		if item.Quantity <= 0 {
			errs = append(errs, fmt.Sprintf("Item %d: quantity must be greater than 0", n))
		}
		if !item.Price.IsPositive() {
			errs = append(errs, fmt.Sprintf("Item %d: price must be greater than 0", n))
		}
	}

	if len(in.Items) > 0 {
		if _, _, total := CalculateTotals(in.Items, in.ShippingCost); !total.IsPositive() {
			errs = append(errs, "Order total must be greater than 0")
		}
	}

	if in.Status != nil && !in.Status.Valid() {
		errs = append(errs, fmt.Sprintf("Invalid status %q", *in.Status))
	}
	return errs
}

// CalculateTotals returns the line totals, the subtotal and the order total.
// Subtotal and total are rounded half away from zero to two decimals.
func CalculateTotals(items []models.ItemInput, shippingCost decimal.Decimal) ([]decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	lines := make([]decimal.Decimal, len(items))
	subtotal := decimal.Zero
	for i, item := range items {
		lines[i] = item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(lines[i])
	}
	subtotal = subtotal.Round(2)
	total := subtotal.Add(shippingCost).Round(2)
	return lines, subtotal, total
}

// GenerateOrderNumber returns ORD-<unix millis>-<3 random digits>.
func GenerateOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%03d", now.UnixMilli(), rand.IntN(1000))
}
