package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

type lineRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	VariantID int64 `json:"variant_id" validate:"gte=0"`
	Quantity  int   `json:"quantity" validate:"required,gte=1,lte=1000"`
}

type destinationRequest struct {
	CountryID int64 `json:"country_id" validate:"gte=0"`
	StateID   int64 `json:"state_id" validate:"gte=0"`
	CityID    int64 `json:"city_id" validate:"gte=0"`
}

// checkoutRequest is shared by preview, placement and coupon validation.
// Without lines the customer's cart is priced.
type checkoutRequest struct {
	Lines             []lineRequest       `json:"lines" validate:"omitempty,max=100,dive"`
	Destination       *destinationRequest `json:"destination"`
	ShippingAddressID int64               `json:"shipping_address_id" validate:"gte=0"`
	BillingAddressID  int64               `json:"billing_address_id" validate:"gte=0"`
	SameAsShipping    bool                `json:"same_as_shipping"`
	PaymentMethod     string              `json:"payment_method" validate:"max=32"`
	CouponCode        string              `json:"coupon_code" validate:"max=64"`
}

func (c checkoutRequest) domain(customerID int64) checkout.Request {
	req := checkout.Request{
		CustomerID:        customerID,
		ShippingAddressID: c.ShippingAddressID,
		BillingAddressID:  c.BillingAddressID,
		SameAsShipping:    c.SameAsShipping,
		PaymentMethodKey:  c.PaymentMethod,
		CouponCode:        c.CouponCode,
	}
	if c.Destination != nil {
		req.Destination = shipping.Destination{
			CountryID: c.Destination.CountryID,
			StateID:   c.Destination.StateID,
			CityID:    c.Destination.CityID,
		}
	}
	for _, l := range c.Lines {
		req.Lines = append(req.Lines, checkout.RequestLine{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
		})
	}
	return req
}

type summaryResponse struct {
	Summary order.Summary `json:"summary"`
	Lines   []order.Line  `json:"lines"`
}

func (h *Handler) previewSummary(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	priced, err := h.svc.Preview(r.Context(), req.domain(customerID(r.Context())))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Summary: priced.Summary, Lines: priced.Lines})
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(HeaderIdempotencyKey)
	if len(key) > 128 {
		writeError(w, http.StatusBadRequest, errorResponse{
			Kind:    string(checkout.KindValidation),
			Message: HeaderIdempotencyKey + " must be at most 128 characters",
		})
		return
	}

	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.svc.Place(r.Context(), checkout.PlaceRequest{
		Request:        req.domain(customerID(r.Context())),
		IdempotencyKey: key,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Location", "/api/checkout/orders/"+o.Number)
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Order(r.Context(), customerID(r.Context()), chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	headers, err := h.svc.Orders(r.Context(), customerID(r.Context()), limit)
	writeHeaders(w, r, headers, err)
}

type couponResponse struct {
	Code             string           `json:"code"`
	Name             string           `json:"name"`
	Type             coupon.Type      `json:"type"`
	Description      string           `json:"description"`
	LongDescription  string           `json:"long_description,omitempty"`
	DiscountKind     string           `json:"discount_kind"`
	DiscountValue    decimal.Decimal  `json:"discount_value"`
	MinimumCartValue *decimal.Decimal `json:"minimum_cart_value,omitempty"`
	StartsAt         time.Time        `json:"starts_at"`
	EndsAt           time.Time        `json:"ends_at"`
}

func toCouponResponse(c *coupon.Coupon) couponResponse {
	return couponResponse{
		Code:             c.Code,
		Name:             c.Name,
		Type:             c.Type,
		Description:      c.Description(),
		LongDescription:  c.LongDescription,
		DiscountKind:     string(c.DiscountKind),
		DiscountValue:    c.DiscountValue,
		MinimumCartValue: c.MinimumCartValue,
		StartsAt:         c.StartsAt,
		EndsAt:           c.EndsAt,
	}
}

type couponValidationResponse struct {
	Coupon           couponResponse  `json:"coupon"`
	Discount         decimal.Decimal `json:"discount"`
	EligibleSubtotal decimal.Decimal `json:"eligible_subtotal"`
}

func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, ev, err := h.svc.ValidateCoupon(r.Context(), req.domain(customerID(r.Context())))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, couponValidationResponse{
		Coupon:           toCouponResponse(c),
		Discount:         ev.Discount,
		EligibleSubtotal: ev.EligibleSubtotal,
	})
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.svc.AvailableCoupons(r.Context(), customerID(r.Context()))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	resp := make([]couponResponse, 0, len(coupons))
	for i := range coupons {
		resp = append(resp, toCouponResponse(&coupons[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"coupons": resp})
}

func (h *Handler) listPaymentMethods(w http.ResponseWriter, _ *http.Request) {
	methods := h.svc.PaymentMethods()
	if methods == nil {
		methods = []payment.Method{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment_methods": methods})
}

func (h *Handler) shippingQuote(w http.ResponseWriter, r *http.Request) {
	var dest shipping.Destination
	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"country_id", &dest.CountryID},
		{"state_id", &dest.StateID},
		{"city_id", &dest.CityID},
	} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errorResponse{
				Kind:    string(checkout.KindValidation),
				Message: p.name + " must be a non-negative integer",
			})
			return
		}
		*p.dst = n
	}

	q, err := h.svc.Quote(r.Context(), dest)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type paymentMethodRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=64"`
	Enabled     bool   `json:"enabled"`
	Notes       string `json:"notes" validate:"max=256"`
}

func (h *Handler) replacePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req paymentMethodRequest
	if !h.decode(w, r, &req) {
		return
	}
	methods, err := h.svc.UpdatePaymentMethod(r.Context(), payment.Method{
		Key:         chi.URLParam(r, "key"),
		DisplayName: req.DisplayName,
		Enabled:     req.Enabled,
		Notes:       req.Notes,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment_methods": methods})
}
