package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/pointshop/internal/cache"
	"github.com/xenking/pointshop/internal/domain/order"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (POINTS_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address" validate:"required,hostname_port"`
	Storage      string `default:"postgres" usage:"Storage backend: postgres or memory" validate:"oneof=postgres memory"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (POINTS_DATABASE_URL or DATABASE_URL)" flag:"database-url" validate:"required_if=Storage postgres"`
	ImageBaseURL string `default:"" usage:"Base URL for product images" flag:"image-base-url" validate:"omitempty,url"`
	APIKeyPepper string `usage:"HMAC pepper for admin API key hashing" flag:"api-key-pepper" validate:"required"`
	Cache        CacheConfig
	Pricing      PricingConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
	Seed         SeedConfig
}

// CacheConfig selects the settings cache.
type CacheConfig struct {
	Provider      string        `default:"memory" usage:"Cache provider: memory or redis" validate:"oneof=memory redis"`
	RedisURL      string        `usage:"Redis URL for the redis provider (POINTS_CACHE_REDIS_URL or REDIS_URL)" yaml:"redis_url"`
	Size          int           `default:"1024" usage:"Entries kept by the memory provider" validate:"gt=0"`
	PointPriceTTL time.Duration `default:"30s" usage:"How long the point price is cached" validate:"gte=0"`
}

func (c CacheConfig) provider() cache.Config {
	return cache.Config{Provider: c.Provider, RedisURL: c.RedisURL, Size: c.Size}
}

// PricingConfig is the order pricing policy.
type PricingConfig struct {
	ShippingFlatRate          string `default:"0" usage:"Flat shipping charge for product orders" validate:"numeric"`
	EarnRate                  string `default:"0" usage:"Fraction of a completed order's total credited as points" validate:"numeric"`
	AllowPartialPointCoverage bool   `default:"false" usage:"Floor the total at zero instead of rejecting over-redemption"`
}

// Order converts the policy to the order service configuration.
func (p PricingConfig) Order() (order.Config, error) {
	shipping, err := decimal.NewFromString(p.ShippingFlatRate)
	if err != nil {
		return order.Config{}, errors.Wrap(err, "shipping flat rate")
	}
	earn, err := decimal.NewFromString(p.EarnRate)
	if err != nil {
		return order.Config{}, errors.Wrap(err, "earn rate")
	}
	if shipping.IsNegative() || earn.IsNegative() {
		return order.Config{}, errors.New("pricing values must not be negative")
	}
	return order.Config{
		ShippingFlatRate:          shipping,
		EarnRate:                  earn,
		AllowPartialPointCoverage: p.AllowPartialPointCoverage,
	}, nil
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window" validate:"gt=0"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration" validate:"gt=0"`
	// KeyHeader keys the limiter by a request header instead of the client IP.
	KeyHeader string `default:"" usage:"Header to key the rate limiter by (empty: client IP)" flag:"rate-limit-key-header"`
	MaxKeys   int    `default:"10000" usage:"Clients tracked by the rate limiter" validate:"gt=0"`
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

// SeedConfig is applied on start when Storage is memory.
type SeedConfig struct {
	AdminKey   string `usage:"Admin API key seeded into memory storage" flag:"seed-admin-key"`
	PointPrice string `default:"1000" usage:"Point price seeded into memory storage" validate:"numeric"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "POINTS",
		Files:     []string{"config.yaml", "/etc/points/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and the pricing policy.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if c.Cache.Provider == "redis" && c.Cache.RedisURL == "" {
		return errors.New("invalid config: cache redis_url is required for the redis provider")
	}
	if _, err := c.Pricing.Order(); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Cache.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.Cache.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
