// Package cart holds the read model of a customer's cart. Cart mutation lives
// outside this service; checkout only reads lines and clears the cart when
// an order is placed.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when the customer has no cart.
var ErrNotFound = errors.New("cart not found")

// Line is one cart entry. UnitPrice is the price captured when the line was
// added.
type Line struct {
	ID           int64
	ProductID    int64
	VariantID    int64
	VariantSKU   string
	VariantLabel string
	Quantity     int
	UnitPrice    decimal.Decimal
}

// Cart is a customer's active cart.
type Cart struct {
	ID         int64
	CustomerID int64
	Lines      []Line
	UpdatedAt  time.Time
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

// Repository loads carts by owner.
type Repository interface {
	ByCustomer(ctx context.Context, customerID int64) (*Cart, error)
}
