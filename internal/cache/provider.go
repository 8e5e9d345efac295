package cache

import (
	"context"
	"errors"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/config"
)

// Provider defines the minimal cache operations needed to reuse pipeline reports.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// NewProvider builds the report cache described by cfg. A disabled cache is a
// NoopProvider, an enabled cache without an address is process-local.
func NewProvider(cfg config.CacheConfig) (Provider, error) {
	switch {
	case !cfg.Enabled:
		return NoopProvider{}, nil
	case cfg.Addr == "":
		return NewMemoryProvider(), nil
	default:
		return NewRedisProvider(cfg)
	}
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX reports success without storing anything.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del is a no-op.
func (NoopProvider) Del(context.Context, string) error { return nil }

func (NoopProvider) Close() error { return nil }
