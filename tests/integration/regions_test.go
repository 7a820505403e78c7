//go:build integration

package integration

import (
	"net/http"
	"slices"
	"testing"
)

func TestRegions(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantCode int
		want     []string
	}{
		{"countries", "/api/checkout/regions/countries", http.StatusOK, []string{"India"}},
		{"states", "/api/checkout/regions/countries/1/states", http.StatusOK, []string{"Karnataka", "Maharashtra"}},
		{"states of disabled country", "/api/checkout/regions/countries/2/states", http.StatusOK, []string{}},
		{"cities", "/api/checkout/regions/states/10/cities", http.StatusOK, []string{"Bengaluru", "Mysuru"}},
		{"cities of disabled state", "/api/checkout/regions/states/12/cities", http.StatusOK, []string{}},
		{"unknown country", "/api/checkout/regions/countries/404/states", http.StatusNotFound, nil},
		{"bad id", "/api/checkout/regions/states/x/cities", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Region lookups need no customer.
			resp := doCheckout(t, http.MethodGet, tt.path, 0, nil)
			defer resp.Body.Close()

			expectStatus(t, resp, tt.wantCode)
			if tt.want == nil {
				return
			}
			body := decodeJSON[regionsResponse](t, resp)
			var got []string
			for _, o := range slices.Concat(body.Countries, body.States, body.Cities) {
				got = append(got, o.Name)
			}
			if got == nil {
				got = []string{}
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
