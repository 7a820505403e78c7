// Package customer provides customer identity and address book lookups used
// by checkout.
package customer

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

var (
	// ErrNotFound is returned for an unknown customer.
	ErrNotFound = errors.New("customer not found")
	// ErrAddressNotFound is returned for an unknown address or one owned by
	// another customer.
	ErrAddressNotFound = errors.New("address not found")
)

// Customer is the identity recorded on an order.
type Customer struct {
	ID        int64
	Email     string
	FullName  string
	CreatedAt time.Time
}

// Address is a structured address from the customer's address book.
type Address struct {
	ID           int64  `json:"id"`
	CustomerID   int64  `json:"customer_id"`
	Type         string `json:"type"`
	FullName     string `json:"full_name"`
	MobileNumber string `json:"mobile_number"`
	PinCode      string `json:"pin_code"`
	Line1        string `json:"line1"`
	Line2        string `json:"line2,omitempty"`
	Landmark     string `json:"landmark,omitempty"`
	CountryID    int64  `json:"country_id"`
	StateID      int64  `json:"state_id,omitempty"`
	CityID       int64  `json:"city_id,omitempty"`
	CountryName  string `json:"country_name"`
	StateName    string `json:"state_name,omitempty"`
	CityName     string `json:"city_name,omitempty"`
}

// Destination is the shipping destination of the address.
func (a Address) Destination() shipping.Destination {
	return shipping.Destination{
		CountryID: a.CountryID,
		StateID:   a.StateID,
		CityID:    a.CityID,
	}
}

// Directory resolves customers. IsNewCustomer reports whether the customer
// has never placed an order.
type Directory interface {
	Customer(ctx context.Context, id int64) (*Customer, error)
	IsNewCustomer(ctx context.Context, id int64) (bool, error)
}

// AddressBook resolves addresses owned by a customer.
type AddressBook interface {
	Address(ctx context.Context, customerID, addressID int64) (*Address, error)
}
