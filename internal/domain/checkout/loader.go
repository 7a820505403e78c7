package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/customer"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

// RequestLine is a line supplied explicitly by the caller. Only product,
// variant and quantity are taken from it; prices come from the catalog.
type RequestLine struct {
	ProductID int64
	VariantID int64
	Quantity  int
}

// Request is the caller's selection for a preview or placement. When Lines
// is empty the customer's cart is used. ShippingAddressID takes precedence
// over Destination.
type Request struct {
	CustomerID        int64
	Lines             []RequestLine
	Destination       shipping.Destination
	ShippingAddressID int64
	BillingAddressID  int64
	SameAsShipping    bool
	PaymentMethodKey  string
	CouponCode        string
}

// Inputs is everything a pricing computation reads, fetched up front.
type Inputs struct {
	Customer        customer.Customer
	IsNewCustomer   bool
	CartID          int64
	Lines           []cart.Line
	Products        map[int64]product.Product
	Variants        map[int64]product.Variant
	Path            *shipping.Path
	ShippingAddress *customer.Address
	BillingAddress  *customer.Address
	CouponCode      string
	Coupon          *coupon.Coupon
	Now             time.Time
}

// CouponLookup finds a coupon by code, returning (nil, nil) for unknown
// codes. *coupon.Validator implements it.
type CouponLookup interface {
	Lookup(ctx context.Context, code string) (*coupon.Coupon, error)
}

// Loader fetches Inputs for a Request.
type Loader struct {
	carts     cart.Repository
	products  product.Repository
	network   shipping.Network
	coupons   CouponLookup
	customers customer.Directory
	addresses customer.AddressBook
	now       func() time.Time
}

// NewLoader creates a Loader over the given collaborators.
func NewLoader(
	carts cart.Repository,
	products product.Repository,
	network shipping.Network,
	coupons CouponLookup,
	customers customer.Directory,
	addresses customer.AddressBook,
) *Loader {
	return &Loader{
		carts:     carts,
		products:  products,
		network:   network,
		coupons:   coupons,
		customers: customers,
		addresses: addresses,
		now:       time.Now,
	}
}

// Load fetches the customer, cart, addresses, catalog rows, shipping path and
// coupon for req. Independent reads run concurrently.
func (l *Loader) Load(ctx context.Context, req Request) (*Inputs, error) {
	if req.CustomerID <= 0 {
		return nil, validation("customer is required")
	}
	for _, rl := range req.Lines {
		if rl.Quantity <= 0 {
			return nil, validation("quantity must be greater than 0")
		}
	}

	in := &Inputs{
		CouponCode: coupon.NormalizeCode(req.CouponCode),
		Now:        l.now(),
	}

	var c *cart.Cart
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cust, err := l.customers.Customer(gctx, req.CustomerID)
		if err != nil {
			return errors.Wrap(err, "get customer")
		}
		in.Customer = *cust
		return nil
	})
	g.Go(func() error {
		isNew, err := l.customers.IsNewCustomer(gctx, req.CustomerID)
		if err != nil {
			return errors.Wrap(err, "check new customer")
		}
		in.IsNewCustomer = isNew
		return nil
	})
	g.Go(func() error {
		got, err := l.carts.ByCustomer(gctx, req.CustomerID)
		if err != nil {
			if errors.Is(err, cart.ErrNotFound) {
				return nil
			}
			return errors.Wrap(err, "get cart")
		}
		c = got
		return nil
	})
	if req.ShippingAddressID != 0 {
		g.Go(func() error {
			a, err := l.addresses.Address(gctx, req.CustomerID, req.ShippingAddressID)
			if err != nil {
				return errors.Wrap(err, "get shipping address")
			}
			in.ShippingAddress = a
			return nil
		})
	}
	if req.BillingAddressID != 0 && !req.SameAsShipping {
		g.Go(func() error {
			a, err := l.addresses.Address(gctx, req.CustomerID, req.BillingAddressID)
			if err != nil {
				return errors.Wrap(err, "get billing address")
			}
			in.BillingAddress = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if req.SameAsShipping {
		in.BillingAddress = in.ShippingAddress
	}

	if c != nil {
		in.CartID = c.ID
	}
	if len(req.Lines) > 0 {
		in.Lines = make([]cart.Line, len(req.Lines))
		for i, rl := range req.Lines {
			in.Lines[i] = cart.Line{ProductID: rl.ProductID, VariantID: rl.VariantID, Quantity: rl.Quantity}
		}
	} else if c != nil {
		in.Lines = c.Lines
	}
	if len(in.Lines) == 0 {
		return nil, validation("cart is empty")
	}

	dest := req.Destination
	if in.ShippingAddress != nil {
		dest = in.ShippingAddress.Destination()
	}

	productIDs, variantIDs := lineIDs(in.Lines)
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		ps, err := l.products.GetByIDs(gctx, productIDs)
		if err != nil {
			return errors.Wrap(err, "get products")
		}
		in.Products = make(map[int64]product.Product, len(ps))
		for _, p := range ps {
			in.Products[p.ID] = p
		}
		return nil
	})
	if len(variantIDs) > 0 {
		g.Go(func() error {
			vs, err := l.products.VariantsByIDs(gctx, variantIDs)
			if err != nil {
				return errors.Wrap(err, "get variants")
			}
			in.Variants = make(map[int64]product.Variant, len(vs))
			for _, v := range vs {
				in.Variants[v.ID] = v
			}
			return nil
		})
	}
	if !dest.IsZero() {
		g.Go(func() error {
			p, err := shipping.Locate(gctx, l.network, dest)
			if err != nil {
				return errors.Wrap(err, "locate destination")
			}
			in.Path = p
			return nil
		})
	}
	if in.CouponCode != "" {
		g.Go(func() error {
			cp, err := l.coupons.Lookup(gctx, in.CouponCode)
			if err != nil {
				return err
			}
			in.Coupon = cp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := in.resolveLines(len(req.Lines) > 0); err != nil {
		return nil, err
	}
	return in, nil
}

// resolveLines checks every line against the catalog. Explicit lines are
// priced from the catalog; cart lines keep the price captured when added.
func (in *Inputs) resolveLines(explicit bool) error {
	for i := range in.Lines {
		l := &in.Lines[i]
		p, ok := in.Products[l.ProductID]
		if !ok {
			return &product.NotFoundError{ProductID: l.ProductID}
		}
		if l.VariantID == 0 {
			if explicit {
				l.UnitPrice = p.Price
			}
			continue
		}
		v, ok := in.Variants[l.VariantID]
		if !ok || v.ProductID != l.ProductID {
			return &product.NotFoundError{ProductID: l.ProductID, VariantID: l.VariantID}
		}
		if explicit {
			l.UnitPrice = v.Price
			l.VariantSKU = v.SKU
			l.VariantLabel = v.Label
		}
	}
	return nil
}

func lineIDs(lines []cart.Line) (products, variants []int64) {
	seenP := make(map[int64]struct{}, len(lines))
	seenV := make(map[int64]struct{})
	for _, l := range lines {
		if _, ok := seenP[l.ProductID]; !ok {
			seenP[l.ProductID] = struct{}{}
			products = append(products, l.ProductID)
		}
		if l.VariantID == 0 {
			continue
		}
		if _, ok := seenV[l.VariantID]; !ok {
			seenV[l.VariantID] = struct{}{}
			variants = append(variants, l.VariantID)
		}
	}
	return products, variants
}
