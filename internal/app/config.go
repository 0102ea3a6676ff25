package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"HTTP server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for admin API key hashing" flag:"api-key-pepper"`
	ShippingCost string `default:"15.00" usage:"Flat shipping fee in RON" flag:"shipping-cost"`

	Store     StoreConfig
	Stripe    StripeConfig
	Carrier   CarrierConfig
	Invoicing InvoicingConfig
	Mail      MailConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// StoreConfig identifies the shop in carrier and email content.
type StoreConfig struct {
	Name        string `default:"Atelier Luna" usage:"Sender name on shipments and emails"`
	Phone       string `usage:"Sender phone for the carrier contact"`
	Email       string `usage:"Sender email address"`
	AdminEmail  string `usage:"Address receiving new-order alerts" flag:"admin-email"`
	SuccessURL  string `usage:"Customer redirect after successful payment" flag:"success-url"`
	CancelURL   string `usage:"Customer redirect after abandoned payment" flag:"cancel-url"`
	CourierName string `default:"curier" usage:"Carrier service name on shipments" flag:"courier-name"`
	ServiceTier string `default:"standard" usage:"Carrier service tier" flag:"service-tier"`
}

// StripeConfig configures the card payment provider.
type StripeConfig struct {
	APIKey        string `usage:"Stripe secret key" flag:"stripe-api-key"`
	WebhookSecret string `usage:"Stripe webhook endpoint secret" flag:"stripe-webhook-secret"`
	Currency      string `default:"ron" usage:"Checkout currency"`
}

// CarrierConfig configures the shipping carrier API client.
type CarrierConfig struct {
	BaseURL string `usage:"Carrier API base URL" flag:"carrier-url"`
	APIKey  string `usage:"Carrier API key" flag:"carrier-api-key"`
}

// InvoicingConfig configures the invoicing provider client.
type InvoicingConfig struct {
	BaseURL string `usage:"Invoicing API base URL" flag:"invoicing-url"`
	APIKey  string `usage:"Invoicing API key" flag:"invoicing-api-key"`
	Series  string `default:"ALN" usage:"Invoice number series"`
}

// MailConfig configures the transactional email client.
type MailConfig struct {
	BaseURL string `usage:"Mail API base URL" flag:"mail-url"`
	APIKey  string `usage:"Mail API key" flag:"mail-api-key"`
	From    string `usage:"From address on outgoing mail"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
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
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/fulfillment/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the SHOP_-prefixed configuration.
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
