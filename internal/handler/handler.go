// Package handler exposes the checkout service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

const (
	// HeaderCustomerID names the acting customer.
	HeaderCustomerID = "X-Customer-ID"
	// HeaderIdempotencyKey deduplicates order placement.
	HeaderIdempotencyKey = "Idempotency-Key"

	maxRequestBody = 64 << 10
)

// Service is the checkout API consumed by the handlers.
type Service interface {
	Preview(ctx context.Context, req checkout.Request) (*checkout.Priced, error)
	Place(ctx context.Context, req checkout.PlaceRequest) (*order.Order, error)
	Order(ctx context.Context, customerID int64, number string) (*order.Order, error)
	Orders(ctx context.Context, customerID int64, limit int) ([]order.Header, error)
	ValidateCoupon(ctx context.Context, req checkout.Request) (*coupon.Coupon, coupon.Evaluation, error)
	AvailableCoupons(ctx context.Context, customerID int64) ([]coupon.Coupon, error)
	PaymentMethods() []payment.Method
	UpdatePaymentMethod(ctx context.Context, m payment.Method) ([]payment.Method, error)
	Quote(ctx context.Context, dest shipping.Destination) (*shipping.Quote, error)
	Countries(ctx context.Context) ([]shipping.Option, error)
	States(ctx context.Context, countryID int64) ([]shipping.Option, error)
	Cities(ctx context.Context, stateID int64) ([]shipping.Option, error)
	AdminOrder(ctx context.Context, number string) (*order.Order, error)
	AdminOrders(ctx context.Context, f order.Filter) ([]order.Header, error)
}

var _ Service = (*checkout.Service)(nil)

// Handler serves the checkout routes.
type Handler struct {
	svc      Service
	auth     *Authenticator
	validate *validator.Validate
}

// New creates a Handler. A nil auth disables authentication.
func New(svc Service, auth *Authenticator) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{svc: svc, auth: auth, validate: v}
}

// Routes registers the API under r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/checkout", func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.auth.Require(ScopeCheckout))
		}
		r.Route("/regions", func(r chi.Router) {
			r.Get("/countries", h.listCountries)
			r.Get("/countries/{countryID}/states", h.listStates)
			r.Get("/states/{stateID}/cities", h.listCities)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireCustomer)

			r.Post("/summary", h.previewSummary)
			r.Post("/orders", h.placeOrder)
			r.Get("/orders", h.listOrders)
			r.Get("/orders/{orderNumber}", h.getOrder)
			r.Post("/coupons/validate", h.validateCoupon)
			r.Get("/coupons", h.listCoupons)
			r.Get("/payment-methods", h.listPaymentMethods)
			r.Get("/shipping/quote", h.shippingQuote)
		})
	})
	r.Route("/api/admin", func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.auth.Require(ScopeAdmin))
		}
		r.Put("/payment-methods/{key}", h.replacePaymentMethod)
		r.Get("/orders", h.adminListOrders)
		r.Get("/orders/{orderNumber}", h.adminGetOrder)
		r.Get("/customers/{customerID}/orders", h.adminListCustomerOrders)
		r.Get("/customers/{customerID}/orders/{orderNumber}", h.adminGetCustomerOrder)
	})
}

type customerKey struct{}

// requireCustomer parses the acting customer from HeaderCustomerID.
func requireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderCustomerID)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, errorResponse{
				Kind:    string(checkout.KindValidation),
				Message: HeaderCustomerID + " header must be a positive integer",
			})
			return
		}
		ctx := context.WithValue(r.Context(), customerKey{}, id)
		ctx = zctx.With(ctx, zap.Int64("customer_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func customerID(ctx context.Context) int64 {
	id, _ := ctx.Value(customerKey{}).(int64)
	return id
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the caller may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errorResponse{
				Kind:    string(checkout.KindValidation),
				Message: "request body too large",
			})
			return false
		}
		writeError(w, http.StatusBadRequest, errorResponse{
			Kind:    string(checkout.KindValidation),
			Message: "request body must be valid JSON: " + err.Error(),
		})
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{
			Kind:    string(checkout.KindValidation),
			Message: validationMessage(err),
		})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		msg := field + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
