package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

// Kinds produced by the transport itself.
const (
	kindUnauthorized = "UNAUTHORIZED"
	kindForbidden    = "FORBIDDEN"
)

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	// Reason is set for COUPON_INELIGIBLE.
	Reason string `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, status int, body errorResponse) {
	writeJSON(w, status, body)
}

// statusOf maps a checkout kind to its HTTP status.
func statusOf(kind checkout.Kind) int {
	switch kind {
	case checkout.KindValidation,
		checkout.KindNotShippable,
		checkout.KindCouponIneligible,
		checkout.KindPaymentUnavailable:
		return http.StatusUnprocessableEntity
	case checkout.KindNotFound:
		return http.StatusNotFound
	case checkout.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError classifies err and writes it. Internal details of
// FATAL errors are logged, never returned.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := checkout.KindOf(err)
	status := statusOf(kind)
	body := errorResponse{Kind: string(kind), Message: checkout.Message(err)}

	var ineligible *coupon.IneligibleError
	if errors.As(err, &ineligible) {
		body.Reason = string(ineligible.Reason)
	}

	lg := zctx.From(ctx)
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.String("kind", string(kind)), zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.String("kind", string(kind)), zap.Error(err))
	}
	writeError(w, status, body)
}
