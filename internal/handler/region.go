package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

func (h *Handler) listCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := h.svc.Countries(r.Context())
	writeRegions(w, r, "countries", countries, err)
}

func (h *Handler) listStates(w http.ResponseWriter, r *http.Request) {
	countryID, ok := pathID(w, r, "countryID")
	if !ok {
		return
	}
	states, err := h.svc.States(r.Context(), countryID)
	writeRegions(w, r, "states", states, err)
}

func (h *Handler) listCities(w http.ResponseWriter, r *http.Request) {
	stateID, ok := pathID(w, r, "stateID")
	if !ok {
		return
	}
	cities, err := h.svc.Cities(r.Context(), stateID)
	writeRegions(w, r, "cities", cities, err)
}

func writeRegions(w http.ResponseWriter, r *http.Request, key string, opts []shipping.Option, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	if opts == nil {
		opts = []shipping.Option{}
	}
	writeJSON(w, http.StatusOK, map[string]any{key: opts})
}

// pathID parses a positive integer URL parameter, writing a VALIDATION
// error when it is not one.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errorResponse{
			Kind:    string(checkout.KindValidation),
			Message: name + " must be a positive integer",
		})
		return 0, false
	}
	return id, true
}
