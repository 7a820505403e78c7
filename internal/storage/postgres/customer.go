package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/customer"
)

const (
	getCustomerSQL = `SELECT id, email, full_name, created_at FROM customers WHERE id = $1`

	hasOrdersSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE customer_id = $1)`

	getAddressSQL = `SELECT a.id, a.customer_id, a.type, a.full_name, a.mobile_number, a.pin_code,
			a.line1, a.line2, a.landmark,
			a.country_id, COALESCE(a.state_id, 0), COALESCE(a.city_id, 0),
			co.name, COALESCE(s.name, ''), COALESCE(ci.name, '')
		FROM addresses a
		JOIN countries co ON co.id = a.country_id
		LEFT JOIN states s ON s.id = a.state_id
		LEFT JOIN cities ci ON ci.id = a.city_id
		WHERE a.id = $1 AND a.customer_id = $2`
)

var (
	_ customer.Directory   = (*CustomerRepository)(nil)
	_ customer.AddressBook = (*CustomerRepository)(nil)
)

// CustomerRepository implements customer.Directory and customer.AddressBook
// backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

func (r *CustomerRepository) Customer(ctx context.Context, id int64) (*customer.Customer, error) {
	var c customer.Customer
	err := r.pool.QueryRow(ctx, getCustomerSQL, id).Scan(&c.ID, &c.Email, &c.FullName, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get customer %d", id)
	}
	return &c, nil
}

// IsNewCustomer reports whether the customer has no orders yet.
func (r *CustomerRepository) IsNewCustomer(ctx context.Context, id int64) (bool, error) {
	var has bool
	if err := r.pool.QueryRow(ctx, hasOrdersSQL, id).Scan(&has); err != nil {
		return false, errors.Wrapf(err, "check orders of customer %d", id)
	}
	return !has, nil
}

// Address returns the address with its tier names. Addresses of other
// customers are reported as not found.
func (r *CustomerRepository) Address(ctx context.Context, customerID, addressID int64) (*customer.Address, error) {
	var a customer.Address
	err := r.pool.QueryRow(ctx, getAddressSQL, addressID, customerID).Scan(
		&a.ID, &a.CustomerID, &a.Type, &a.FullName, &a.MobileNumber, &a.PinCode,
		&a.Line1, &a.Line2, &a.Landmark,
		&a.CountryID, &a.StateID, &a.CityID,
		&a.CountryName, &a.StateName, &a.CityName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(customer.ErrAddressNotFound, "address %d", addressID)
		}
		return nil, errors.Wrapf(err, "get address %d", addressID)
	}
	return &a, nil
}
