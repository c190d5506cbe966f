package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, a .env file, or YAML config
// files.
type Config struct {
	Addr             string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL      string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ConfirmationPath string `default:"/order-confirmation" usage:"Storefront page checkout redirects land on" flag:"confirmation-path"`
	Merchant         MerchantConfig
	Payment          PaymentConfig
	Reconcile        ReconcileConfig
	StatusPoll       StatusPollConfig
	Auth             AuthConfig
	Redis            RedisConfig
	RabbitMQ         RabbitMQConfig
	HTTP             HTTPConfig
	RateLimit        RateLimitConfig
	CORS             CORSConfig
	Graceful         GracefulConfig
}

// MerchantConfig identifies the receiving account orders are bound to.
type MerchantConfig struct {
	ID       string `usage:"Merchant account identity bound into order digests" flag:"merchant-id"`
	Currency string `default:"USD" usage:"Currency orders are priced in"`
}

// PaymentConfig controls how provider notifications are authenticated.
type PaymentConfig struct {
	WebhookSecret     string        `usage:"Shared secret for webhook signatures" flag:"webhook-secret"`
	WebhookTolerance  time.Duration `default:"5m" usage:"Maximum webhook timestamp skew"`
	IPNVerifyURL      string        `default:"https://ipnpb.paypal.com/cgi-bin/webscr" usage:"IPN verification endpoint" flag:"ipn-verify-url"`
	IPNTimeout        time.Duration `default:"10s" usage:"IPN verification round trip timeout"`
	PlaceholderPrefix string        `default:"WEBHOOK-PENDING-" usage:"Provider id prefix of pending placeholder rows"`
}

// ReconcileConfig bounds the checkout return polling.
type ReconcileConfig struct {
	Attempts int           `default:"6" usage:"Polls before recording a pending placeholder"`
	Interval time.Duration `default:"5s" usage:"Delay between polls"`
}

// StatusPollConfig bounds the payment status query.
type StatusPollConfig struct {
	Attempts int           `default:"3" usage:"Status query attempts"`
	Interval time.Duration `default:"2s" usage:"Delay between status query attempts"`
}

// AuthConfig controls verification of identity tokens.
type AuthConfig struct {
	JWTSecret string `usage:"HS256 secret of identity tokens; empty disables identities" flag:"jwt-secret"`
	Issuer    string `usage:"Expected token issuer"`
	Cookie    string `default:"authToken" usage:"Cookie carrying the identity token"`
}

// RedisConfig enables the in-flight notification lock.
type RedisConfig struct {
	URL     string        `usage:"Redis URL; empty disables the in-flight lock" flag:"redis-url"`
	LockTTL time.Duration `default:"30s" usage:"In-flight lock expiry"`
}

// RabbitMQConfig enables payment event publishing.
type RabbitMQConfig struct {
	URL      string `usage:"AMQP URL; empty disables event publishing" flag:"rabbitmq-url"`
	Exchange string `default:"shop.events" usage:"Topic exchange for payment events"`
}

// HTTPConfig holds server timeouts. WriteTimeout must outlast checkout
// reconciliation.
type HTTPConfig struct {
	ReadTimeout  time.Duration `default:"5s"`
	WriteTimeout time.Duration `default:"60s"`
	IdleTimeout  time.Duration `default:"120s"`
	MaxBodyBytes int64         `default:"1048576"`
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

// LoadConfig loads a .env file when present, then configuration from
// environment variables, YAML config files and flags, and applies
// platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}
	return loadConfig(aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
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

func (c *Config) validate() error {
	var errs error
	if c.DatabaseURL == "" {
		errs = multierr.Append(errs, errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL"))
	}
	if c.Merchant.ID == "" {
		errs = multierr.Append(errs, errors.New("merchant id is required: set SHOP_MERCHANT_ID"))
	}
	if c.Payment.WebhookSecret == "" {
		errs = multierr.Append(errs, errors.New("webhook secret is required: set SHOP_PAYMENT_WEBHOOK_SECRET"))
	}
	if poll := time.Duration(c.Reconcile.Attempts) * c.Reconcile.Interval; c.HTTP.WriteTimeout <= poll {
		errs = multierr.Append(errs, errors.Errorf("http write timeout %s must exceed reconcile polling %s", c.HTTP.WriteTimeout, poll))
	}
	return errs
}
