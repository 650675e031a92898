// Package cache provides TTL-based key-value storage used for DNS-resolution
// memoization on the data plane. The control plane constructs a cache too but
// does not read it. Drivers register via init(); callers select one with
// NewFromConfig (config.CacheConfig.Driver).
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("cache: key not found")
	ErrExpired  = errors.New("cache: key expired")
)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// DriverFactory creates a cache instance from an optional driver-specific
// config. A nil config means "use the driver's defaults".
type DriverFactory func(config map[string]any) CacheWithCounter

// RegisterDriver registers a cache driver by name. Called from driver init().
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// NewDefault returns the default cache (in-memory, default settings).
// Panics if the memory driver isn't registered; callers must blank-import
// internal/platform/cache/loader.
func NewDefault() CacheWithCounter {
	c, err := NewFromConfig("memory", nil)
	if err != nil {
		panic(err)
	}
	return c
}

// NewFromConfig returns a cache for the named driver. An empty name defaults
// to "memory". config is passed unchanged to the driver's factory; nil
// means the driver's defaults.
func NewFromConfig(driver string, config map[string]any) (CacheWithCounter, error) {
	if driver == "" {
		driver = "memory"
	}

	driversMu.RLock()
	factory, ok := drivers[driver]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("cache: unknown driver %q", driver)
	}
	return factory(config), nil
}

// Cache provides TTL-based key-value storage.
type Cache interface {
	// Get retrieves a value by key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. If ttl is 0, use the driver default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists and is not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases resources.
	Close() error
}

// Counter provides atomic increment operations on TTL-windowed counters.
type Counter interface {
	// Increment adds delta to the counter and returns the new value and the
	// time the counter's TTL window resets. If the key doesn't exist, it's
	// created with the given TTL.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error)

	// GetCount returns the current counter value. Returns 0 if not found.
	GetCount(ctx context.Context, key string) (int64, error)

	// Reset sets the counter to 0.
	Reset(ctx context.Context, key string) error
}

// CacheWithCounter combines Cache and Counter. Every registered driver
// implements both, even though most call sites only need Cache.
type CacheWithCounter interface {
	Cache
	Counter
}

// Default TTLs for the categories this module caches.
const (
	TTLDNSResolution = 30 * time.Second     // resolved upstream target addresses
	TTLPublishToken  = 5 * time.Minute      // control-plane publish idempotency keys
	TTLPublishRate   = 1 * time.Minute      // publish rate-limit window
)
