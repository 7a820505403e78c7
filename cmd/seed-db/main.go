package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/db"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

// Generated customers get IDs from this offset so they never collide with
// fixture rows.
const fakeIDOffset = 100_000

type options struct {
	databaseURL   string
	fixtureFile   string
	apiKey        string
	adminAPIKey   string
	pepper        string
	fakeCustomers int
	fakeSeed      uint64
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.fixtureFile, "fixture", "", "path to a fixture JSON file (default: embedded fixture)")
	flag.StringVar(&opts.apiKey, "api-key", "", "checkout API key to seed (or CHECKOUT_SEED_API_KEY env)")
	flag.StringVar(&opts.adminAPIKey, "admin-api-key", "", "admin API key to seed (or CHECKOUT_SEED_ADMIN_API_KEY env)")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CHECKOUT_API_KEY_PEPPER env)")
	flag.IntVar(&opts.fakeCustomers, "fake-customers", 0, "number of generated customers with a cart and an address")
	flag.Uint64Var(&opts.fakeSeed, "fake-seed", 42, "random seed for generated customers")
	flag.Parse()

	opts.databaseURL = orEnv(opts.databaseURL, "DATABASE_URL")
	opts.apiKey = orEnv(opts.apiKey, "CHECKOUT_SEED_API_KEY")
	opts.adminAPIKey = orEnv(opts.adminAPIKey, "CHECKOUT_SEED_ADMIN_API_KEY")
	opts.pepper = orEnv(opts.pepper, "CHECKOUT_API_KEY_PEPPER")

	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.apiKey == "" {
		slog.Error("API key is required: set --api-key or CHECKOUT_SEED_API_KEY")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func orEnv(v, env string) string {
	if v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(env))
}

func run(ctx context.Context, opts options) error {
	f, err := loadFixture(opts.fixtureFile)
	if err != nil {
		return err
	}
	if opts.fakeCustomers > 0 {
		addFakeCustomers(&f, opts.fakeCustomers, opts.fakeSeed)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("seeding fixture",
		slog.Int("products", len(f.Products)),
		slog.Int("customers", len(f.Customers)),
		slog.Int("coupons", len(f.Coupons)),
	)

	if err := postgres.Seed(ctx, pool, f, time.Now()); err != nil {
		return errors.Wrap(err, "seed fixture")
	}

	keys := postgres.NewAPIKeyRepository(pool)
	pepper := []byte(opts.pepper)

	if err := seedAPIKey(ctx, keys, pepper, auth.APIKeyInfo{
		ID:     "default",
		Name:   "Default checkout key",
		Scopes: []string{auth.ScopeCheckout},
	}, opts.apiKey); err != nil {
		return err
	}
	if opts.adminAPIKey != "" {
		if err := seedAPIKey(ctx, keys, pepper, auth.APIKeyInfo{
			ID:     "admin",
			Name:   "Default admin key",
			Scopes: []string{auth.ScopeAdmin},
		}, opts.adminAPIKey); err != nil {
			return err
		}
	}

	return nil
}

func loadFixture(path string) (postgres.Fixture, error) {
	var f postgres.Fixture

	data := db.Fixture
	if path != "" {
		slog.Info("reading fixture file", slog.String("path", path))

		var err error
		if data, err = os.ReadFile(path); err != nil {
			return f, errors.Wrap(err, "read fixture file")
		}
	}

	if err := json.Unmarshal(data, &f); err != nil {
		return f, errors.Wrap(err, "parse fixture JSON")
	}
	return f, nil
}

// addFakeCustomers appends n customers living at the first fixture city,
// each with a one-item cart of the first fixture product.
func addFakeCustomers(f *postgres.Fixture, n int, seed uint64) {
	if len(f.Cities) == 0 || len(f.States) == 0 || len(f.Products) == 0 {
		slog.Warn("fixture has no city or product, skipping generated customers")
		return
	}

	city := f.Cities[0]
	var countryID int64
	for _, s := range f.States {
		if s.ID == city.StateID {
			countryID = s.CountryID
		}
	}

	faker := gofakeit.New(seed)
	for i := range n {
		id := int64(fakeIDOffset + i)
		name := faker.Name()

		f.Customers = append(f.Customers, postgres.FixtureCustomer{
			ID:       id,
			Email:    fmt.Sprintf("%d.%s", id, faker.Email()),
			FullName: name,
		})
		f.Addresses = append(f.Addresses, postgres.FixtureAddress{
			ID:           id,
			CustomerID:   id,
			FullName:     name,
			MobileNumber: faker.Numerify("98########"),
			PinCode:      faker.Zip(),
			Line1:        faker.Street(),
			CountryID:    countryID,
			StateID:      city.StateID,
			CityID:       city.ID,
		})
		f.Carts = append(f.Carts, postgres.FixtureCart{
			CustomerID: id,
			Items: []postgres.FixtureCartItem{
				{ProductID: f.Products[0].ID, Quantity: faker.IntRange(1, 3)},
			},
		})
	}

	slog.Info("generated customers", slog.Int("count", n), slog.Uint64("seed", seed))
}

func seedAPIKey(ctx context.Context, keys *postgres.APIKeyRepository, pepper []byte, info auth.APIKeyInfo, key string) error {
	info.KeyHash = auth.HashHex(pepper, key)
	if err := keys.Upsert(ctx, info); err != nil {
		return errors.Wrapf(err, "upsert API key %q", info.ID)
	}

	slog.Info("upserted API key",
		slog.String("id", info.ID),
		slog.String("name", info.Name),
		slog.String("scopes", strings.Join(info.Scopes, ",")),
	)
	return nil
}
