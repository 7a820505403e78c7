package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/tax"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the catalog view the checkout needs: current price, category
// for coupon scoping and the tax rules attached to it.
type Product struct {
	ID         int64
	Name       string
	Slug       string
	CategoryID int64
	Price      decimal.Decimal
	Active     bool
	TaxRules   []tax.Rule
}

// Variant is a purchasable option of a product with its own price.
type Variant struct {
	ID        int64
	ProductID int64
	SKU       string
	Label     string
	Price     decimal.Decimal
}

// NotFoundError names the missing product or variant.
type NotFoundError struct {
	ProductID int64
	VariantID int64
}

func (e *NotFoundError) Error() string {
	if e.VariantID != 0 {
		return fmt.Sprintf("variant %d of product %d not found", e.VariantID, e.ProductID)
	}
	return fmt.Sprintf("product %d not found", e.ProductID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Repository is the catalog lookup. Batch methods return only the rows that
// exist; callers detect gaps.
type Repository interface {
	GetByIDs(ctx context.Context, ids []int64) ([]Product, error)
	VariantsByIDs(ctx context.Context, ids []int64) ([]Variant, error)
}
