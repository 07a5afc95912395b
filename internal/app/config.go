package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/legacyshop/internal/domain/discount"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Gateway      GatewayConfig
	Rules        RulesConfig
	Kafka        KafkaConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// GatewayConfig points at the external payment provider.
type GatewayConfig struct {
	AuthorizeURL string        `usage:"Payment authorization endpoint" flag:"gateway-authorize-url"`
	VoidURL      string        `usage:"Payment void endpoint" flag:"gateway-void-url"`
	Timeout      time.Duration `default:"5s"    usage:"Per-call gateway timeout"`
	MaxAttempts  int           `default:"3"     usage:"Authorization attempts incl. retries"`
	RetryDelay   time.Duration `default:"500ms" usage:"Delay between authorization retries"`
}

// RulesConfig tunes the pricing rules.
type RulesConfig struct {
	MinOrderTotal string   `default:"0.01" usage:"Smallest acceptable order total" flag:"min-order-total"`
	DiscountTiers []string `default:"50:0.05,100:0.10,200:0.15" usage:"Discount tiers as threshold:rate pairs" flag:"discount-tiers"`
}

// KafkaConfig controls the optional order event stream. Empty brokers
// disable publishing.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka broker addresses; empty disables events"`
	Topic   string   `default:"shop.order-events" usage:"Order events topic"`
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
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
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
	if cfg.Gateway.AuthorizeURL == "" || cfg.Gateway.VoidURL == "" {
		return nil, errors.New("payment gateway URLs are required: set SHOP_GATEWAY_AUTHORIZE_URL and SHOP_GATEWAY_VOID_URL")
	}

	return &cfg, nil
}

// MinTotal parses the configured minimum order total.
func (c *RulesConfig) MinTotal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.MinOrderTotal)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse min order total %q", c.MinOrderTotal)
	}
	return d, nil
}

// Tiers parses the configured threshold:rate pairs into discount tiers.
func (c *RulesConfig) Tiers() ([]discount.Tier, error) {
	tiers := make([]discount.Tier, 0, len(c.DiscountTiers))
	for _, raw := range c.DiscountTiers {
		threshold, rate, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, errors.Errorf("discount tier %q is not threshold:rate", raw)
		}
		t, err := decimal.NewFromString(threshold)
		if err != nil {
			return nil, errors.Wrapf(err, "parse tier threshold %q", threshold)
		}
		r, err := decimal.NewFromString(rate)
		if err != nil {
			return nil, errors.Wrapf(err, "parse tier rate %q", rate)
		}
		tiers = append(tiers, discount.Tier{Threshold: t, Rate: r})
	}
	return tiers, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and
// PORT to the application's SHOP_-prefixed configuration.
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
