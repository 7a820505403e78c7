package checkout

import (
	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/customer"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

// Kind classifies checkout failures for callers.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindNotFound           Kind = "NOT_FOUND"
	KindNotShippable       Kind = "NOT_SHIPPABLE"
	KindCouponIneligible   Kind = "COUPON_INELIGIBLE"
	KindPaymentUnavailable Kind = "PAYMENT_METHOD_UNAVAILABLE"
	KindConflict           Kind = "CONCURRENT_CONFLICT"
	KindFatal              Kind = "FATAL"
)

// Error carries a Kind and a message safe to show to the caller.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

// KindOf maps err onto a Kind. Unknown errors are FATAL.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var (
		ce       *Error
		nodeErr  *shipping.NodeNotFoundError
		mismatch *shipping.MismatchError
		ineligib *coupon.IneligibleError
		prodErr  *product.NotFoundError
	)
	switch {
	case errors.As(err, &ce):
		return ce.Kind
	case errors.Is(err, shipping.ErrNotShippable):
		return KindNotShippable
	case errors.As(err, &nodeErr), errors.As(err, &mismatch), errors.As(err, &prodErr):
		return KindValidation
	case errors.As(err, &ineligib):
		return KindCouponIneligible
	case errors.Is(err, payment.ErrUnavailable):
		return KindPaymentUnavailable
	case errors.Is(err, order.ErrNumberConflict):
		return KindConflict
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, cart.ErrNotFound),
		errors.Is(err, customer.ErrNotFound),
		errors.Is(err, customer.ErrAddressNotFound):
		return KindNotFound
	default:
		return KindFatal
	}
}

// Message returns the caller-facing text for err. Wrap context added on the
// way up is internal and never shown.
func Message(err error) string {
	var (
		ce       *Error
		ineligib *coupon.IneligibleError
		nodeErr  *shipping.NodeNotFoundError
		mismatch *shipping.MismatchError
		prodErr  *product.NotFoundError
	)
	switch {
	case errors.As(err, &ce):
		return ce.Message
	case errors.As(err, &ineligib):
		return ineligib.Message
	case errors.As(err, &nodeErr):
		return nodeErr.Error()
	case errors.As(err, &mismatch):
		return mismatch.Error()
	case errors.As(err, &prodErr):
		return prodErr.Error()
	case errors.Is(err, payment.ErrUnavailable):
		return "Selected payment method is not available"
	}
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}

// publicErrors have texts safe to show as they are.
var publicErrors = []error{
	shipping.ErrNotShippable,
	order.ErrNumberConflict,
	order.ErrNotFound,
	cart.ErrNotFound,
	customer.ErrNotFound,
	customer.ErrAddressNotFound,
}
