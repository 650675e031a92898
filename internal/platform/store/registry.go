package store

import (
	"fmt"
	"sync"
)

// Factory constructs a Driver from its configuration. Registered from a
// driver package's init().
type Factory func(cfg *DriverConfig) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register registers a driver factory by name. Typically called from init().
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("store: driver %q already registered", name))
	}
	registry[name] = factory
}

// New constructs a Driver for the named backend.
func New(name string, cfg *DriverConfig) (Driver, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown driver %q (available: %v)", name, AvailableDrivers())
	}
	return factory(cfg)
}

// AvailableDrivers returns the names of all registered drivers.
func AvailableDrivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
