// Package cache provides a small string key-value cache used for hot
// settings such as the point price.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Provider is a TTL-aware string cache.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a Provider.
type Config struct {
	Provider string `default:"memory" validate:"oneof=memory redis"`
	RedisURL string `yaml:"redis_url"`
	Size     int    `default:"1024"`
}

// New creates the configured Provider.
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemory(cfg.Size)
	case "redis":
		return NewRedis(ctx, cfg.RedisURL)
	default:
		return nil, errors.Errorf("unsupported cache provider: %q", cfg.Provider)
	}
}

// PointPriceKey is the cache key of the point price setting.
const PointPriceKey = "settings:point-price"
