package proxy

import (
	"fmt"
	"time"

	"github.com/barrett370/lazycache"
	"github.com/jmgilman/go/errors"
)

const defaultWarmConcurrency = 4

type config struct {
	capacity        int
	policy          cache.Policy
	ttl             time.Duration
	cleanupInterval time.Duration
	initTimeout     time.Duration
	warmConcurrency int
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		capacity:        cache.DefaultCapacity,
		policy:          cache.EvictLRU,
		ttl:             cache.NoExpiration,
		warmConcurrency: defaultWarmConcurrency,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %w", i, err)
		}
	}
	return cfg, nil
}

// WithCapacity sets the maximum number of payloads held in the cache.
//
// Default is 10.
func WithCapacity(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errors.Newf(errors.CodeInvalidInput, "capacity must be positive, got %d", n)
		}
		cfg.capacity = n
		return nil
	}
}

// WithPolicy sets what happens when a new key is fetched while the cache is
// full: cache.EvictLRU drops the least recently used payload, and
// cache.DeclineWhenFull leaves the cache as it is and does not cache the new
// payload.
//
// Default is cache.EvictLRU.
func WithPolicy(p cache.Policy) Option {
	return func(cfg *config) error {
		cfg.policy = p
		return nil
	}
}

// WithTTL sets how long a payload stays cached. A value of 0 or
// cache.NoExpiration keeps payloads until they are evicted.
//
// Default is cache.NoExpiration.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *config) error {
		cfg.ttl = ttl
		return nil
	}
}

// WithCleanupInterval sets how often expired payloads are purged in the
// background. If set to 0, expired payloads are only purged when room is
// needed.
func WithCleanupInterval(interval time.Duration) Option {
	return func(cfg *config) error {
		cfg.cleanupInterval = interval
		return nil
	}
}

// WithInitTimeout bounds how long a fetch waits for the Service to be
// constructed. If set to 0, a fetch waits until its context is done.
//
// Default is 0.
func WithInitTimeout(d time.Duration) Option {
	return func(cfg *config) error {
		if d < 0 {
			return errors.Newf(errors.CodeInvalidInput, "init timeout must not be negative, got %s", d)
		}
		cfg.initTimeout = d
		return nil
	}
}

// WithWarmConcurrency sets the number of fetches Warm runs at once.
//
// Default is 4.
func WithWarmConcurrency(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errors.Newf(errors.CodeInvalidInput, "warm concurrency must be positive, got %d", n)
		}
		cfg.warmConcurrency = n
		return nil
	}
}
