package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`

	Pricing   PricingConfig
	Paystack  PaystackConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// PricingConfig holds the site-wide shipping and tax settings as decimal
// strings.
type PricingConfig struct {
	ShippingCost          string `default:"1000"  usage:"Flat shipping cost for delivery orders" flag:"shipping-cost"`
	FreeShippingThreshold string `default:"15000" usage:"Subtotal at which shipping becomes free" flag:"free-shipping-threshold"`
	TaxRate               string `default:"0.075" usage:"Tax rate applied to the subtotal" flag:"tax-rate"`
}

// Parse converts the decimal strings into the order service's pricing config.
func (c PricingConfig) Parse() (order.PricingConfig, error) {
	shipping, err := decimal.NewFromString(c.ShippingCost)
	if err != nil {
		return order.PricingConfig{}, errors.Wrap(err, "shipping cost")
	}
	threshold, err := decimal.NewFromString(c.FreeShippingThreshold)
	if err != nil {
		return order.PricingConfig{}, errors.Wrap(err, "free shipping threshold")
	}
	taxRate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return order.PricingConfig{}, errors.Wrap(err, "tax rate")
	}
	return order.PricingConfig{
		DefaultShippingCost:   shipping,
		FreeShippingThreshold: threshold,
		TaxRate:               taxRate,
	}, nil
}

// PaystackConfig holds the payment gateway settings.
type PaystackConfig struct {
	SecretKey   string        `usage:"Paystack secret key (CHECKOUT_PAYSTACK_SECRET_KEY)" flag:"paystack-secret-key"`
	BaseURL     string        `default:"" usage:"Paystack API base URL override (tests/sandbox)" flag:"paystack-base-url"`
	CallbackURL string        `usage:"URL Paystack redirects the customer to after payment" flag:"paystack-callback-url"`
	Timeout     time.Duration `default:"15s" usage:"Paystack API call timeout" flag:"paystack-timeout"`
}

// KafkaConfig holds the notification event transport settings. An empty
// broker list disables event production.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka broker addresses; empty disables notifications" flag:"kafka-brokers"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Paystack.SecretKey == "" {
		return nil, errors.New("Paystack secret key is required: set CHECKOUT_PAYSTACK_SECRET_KEY")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
