package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/customer"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

// Status is the fulfilment state of an order.
type Status string

// StatusProcessing is the state of every newly placed order.
const StatusProcessing Status = "PROCESSING"

var (
	// ErrNotFound is returned for unknown order numbers, including orders
	// owned by another customer.
	ErrNotFound = errors.New("order not found")
	// ErrNumberConflict is returned by Repository.Create when the order
	// number is already taken.
	ErrNumberConflict = errors.New("order number conflict")
	// ErrDuplicateIdempotencyKey is returned by Repository.Create when the
	// customer already placed an order with the same key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// Line is the frozen copy of one priced cart line.
type Line struct {
	CartLineID   int64            `json:"cart_line_id,omitempty"`
	ProductID    int64            `json:"product_id"`
	ProductName  string           `json:"product_name"`
	CategoryID   int64            `json:"category_id,omitempty"`
	VariantID    int64            `json:"variant_id,omitempty"`
	VariantSKU   string           `json:"variant_sku,omitempty"`
	VariantLabel string           `json:"variant_label,omitempty"`
	Quantity     int              `json:"quantity"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	LineTotal    decimal.Decimal  `json:"line_total"`
	TaxRate      *decimal.Decimal `json:"tax_rate"`
	TaxAmount    decimal.Decimal  `json:"tax_amount"`
}

// TaxLine itemizes the tax of one line.
type TaxLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	VariantID   int64           `json:"variant_id,omitempty"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// AppliedCoupon records the coupon that reduced the total.
type AppliedCoupon struct {
	Code        string          `json:"code"`
	Kind        string          `json:"kind"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// CouponRejection explains why a requested coupon was not applied.
type CouponRejection struct {
	Code    string `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Summary is a priced checkout. It is derived for previews and frozen into
// an Order on placement.
type Summary struct {
	Currency        string           `json:"currency"`
	ProductTotal    decimal.Decimal  `json:"product_total"`
	TaxTotal        decimal.Decimal  `json:"tax_total"`
	TaxLines        []TaxLine        `json:"tax_lines"`
	ShippingTotal   decimal.Decimal  `json:"shipping_total"`
	Shipping        *shipping.Quote  `json:"shipping,omitempty"`
	DiscountTotal   decimal.Decimal  `json:"discount_total"`
	Coupon          *AppliedCoupon   `json:"coupon,omitempty"`
	CouponRejection *CouponRejection `json:"coupon_rejection,omitempty"`
	GrandTotal      decimal.Decimal  `json:"grand_total"`
}

// Order is the immutable record of a placed checkout.
type Order struct {
	ID              int64            `json:"id"`
	Number          string           `json:"number"`
	CustomerID      int64            `json:"customer_id"`
	CustomerEmail   string           `json:"customer_email"`
	CustomerName    string           `json:"customer_name"`
	Status          Status           `json:"status"`
	Lines           []Line           `json:"lines"`
	ShippingAddress customer.Address `json:"shipping_address"`
	BillingAddress  customer.Address `json:"billing_address"`
	PaymentMethod   payment.Method   `json:"payment_method"`
	Summary         Summary          `json:"summary"`
	CouponCode      string           `json:"coupon_code,omitempty"`
	DiscountKind    string           `json:"discount_kind,omitempty"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount,omitempty"`
	GrandTotal      decimal.Decimal  `json:"grand_total"`
	IdempotencyKey  string           `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// CartLineIDs lists the cart lines the order was priced from.
func (o *Order) CartLineIDs() []int64 {
	var ids []int64
	for _, l := range o.Lines {
		if l.CartLineID != 0 {
			ids = append(ids, l.CartLineID)
		}
	}
	return ids
}

// Header is the listing view of an order.
type Header struct {
	Number        string          `json:"number"`
	CustomerID    int64           `json:"customer_id"`
	CustomerEmail string          `json:"customer_email"`
	Status        Status          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	CouponCode    string          `json:"coupon_code,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Filter narrows an order listing. Zero fields match every order. Search
// matches the order number or customer email, ignoring case. From is
// inclusive and To exclusive.
type Filter struct {
	CustomerID    int64
	Status        Status
	PaymentMethod string
	Search        string
	From          time.Time
	To            time.Time
	Limit         int
}

// Repository persists orders. Create inserts o and removes the lines listed
// by o.CartLineIDs from cartID in one transaction, setting o.ID and
// timestamps on success.
type Repository interface {
	NextNumber(ctx context.Context) (string, error)
	Create(ctx context.Context, o *Order, cartID int64) error
	ByNumber(ctx context.Context, number string) (*Order, error)
	ByIdempotencyKey(ctx context.Context, customerID int64, key string) (*Order, error)
	// List returns headers matching f, newest first, at most f.Limit.
	List(ctx context.Context, f Filter) ([]Header, error)
}
