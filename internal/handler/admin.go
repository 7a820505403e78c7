package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

const dateLayout = "2006-01-02"

// adminListOrders lists orders across customers. Query parameters:
// customer_id, status, payment, search, from, to (RFC 3339 or a date;
// a date-only "to" includes that whole day) and limit.
func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := order.Filter{
		Status:        order.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		PaymentMethod: q.Get("payment"),
		Search:        q.Get("search"),
	}

	var err error
	if raw := q.Get("customer_id"); raw != "" {
		if f.CustomerID, err = strconv.ParseInt(raw, 10, 64); err != nil || f.CustomerID <= 0 {
			badQuery(w, "customer_id must be a positive integer")
			return
		}
	}
	if f.From, err = parseTime(q.Get("from"), false); err != nil {
		badQuery(w, "from must be an RFC 3339 time or a YYYY-MM-DD date")
		return
	}
	if f.To, err = parseTime(q.Get("to"), true); err != nil {
		badQuery(w, "to must be an RFC 3339 time or a YYYY-MM-DD date")
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	f.Limit = limit

	headers, err := h.svc.AdminOrders(r.Context(), f)
	writeHeaders(w, r, headers, err)
}

func (h *Handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.AdminOrder(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) adminListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "customerID")
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	headers, err := h.svc.Orders(r.Context(), id, limit)
	writeHeaders(w, r, headers, err)
}

func (h *Handler) adminGetCustomerOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "customerID")
	if !ok {
		return
	}
	o, err := h.svc.Order(r.Context(), id, chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func writeHeaders(w http.ResponseWriter, r *http.Request, headers []order.Header, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	if headers == nil {
		headers = []order.Header{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": headers})
}

// queryLimit parses the optional limit parameter; zero means the default.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		badQuery(w, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

// parseTime accepts RFC 3339 or a bare date in UTC. A bare date used as an
// exclusive upper bound moves to the next day.
func parseTime(raw string, upper bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

func badQuery(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, errorResponse{
		Kind:    string(checkout.KindValidation),
		Message: msg,
	})
}
