package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"golang.org/x/text/currency"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

const defaultAddr = "0.0.0.0:8080"

// Config of the API server, loaded from CHECKOUT_* environment variables,
// flags or a YAML file.
type Config struct {
	Addr           string   `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL    string   `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper   string   `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper" env:"API_KEY_PEPPER"`
	Currency       string   `default:"INR" usage:"ISO 4217 currency of every summary"`
	Migrate        bool     `default:"true" usage:"Apply the embedded schema on start"`
	PaymentMethods []string `default:"COD=Cash on Delivery" usage:"Payment methods as KEY=Display Name; prefix ! to register disabled" flag:"payment-methods"`
	RateLimit      RateLimitConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Graceful       GracefulConfig
}

// RateLimitConfig controls the per-key sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// RedisConfig enables the order snapshot cache when Addr is set.
type RedisConfig struct {
	Addr      string        `usage:"Redis address; empty disables the order cache"`
	Password  string        `usage:"Redis password"`
	DB        int           `default:"0" usage:"Redis database"`
	KeyPrefix string        `default:"order:" usage:"Cache key prefix"`
	TTL       time.Duration `default:"5m" usage:"Order cache TTL"`
}

// KafkaConfig enables order events when Brokers is set.
type KafkaConfig struct {
	Brokers      []string      `usage:"Kafka brokers; empty disables order events"`
	Topic        string        `default:"checkout.orders" usage:"Order events topic"`
	WriteTimeout time.Duration `default:"2s"  usage:"Produce timeout; bounds the order.placed publish after commit"`
	BatchTimeout time.Duration `default:"5ms" usage:"Writer batch flush interval"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads and validates the configuration.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:  "CHECKOUT",
		Args:       args,
		Files:      []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	unit, err := currency.ParseISO(c.Currency)
	if err != nil {
		return errors.Wrapf(err, "currency %q", c.Currency)
	}
	c.Currency = unit.String()

	if _, err := c.PaymentRegistry(); err != nil {
		return errors.Wrap(err, "payment methods")
	}
	return nil
}

// PaymentRegistry builds the initial payment method registry.
func (c *Config) PaymentRegistry() (*payment.Registry, error) {
	if len(c.PaymentMethods) == 0 {
		return payment.DefaultRegistry(), nil
	}
	methods := make([]payment.Method, 0, len(c.PaymentMethods))
	for _, raw := range c.PaymentMethods {
		raw = strings.TrimSpace(raw)
		enabled := !strings.HasPrefix(raw, "!")
		key, name, _ := strings.Cut(strings.TrimPrefix(raw, "!"), "=")
		methods = append(methods, payment.Method{
			Key:         key,
			DisplayName: strings.TrimSpace(name),
			Enabled:     enabled,
		})
	}
	return payment.NewRegistry(methods...)
}

// applyPlatformDefaults honours DATABASE_URL and PORT as set by hosting
// platforms.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
