package provider

import (
	"fmt"
	"sync"
)

// Constructor creates a provider from settings.
// Implementations register themselves with Register().
type Constructor func(s Settings) (Provider, error)

// registry maps backend kinds to their constructors
var (
	registry      = make(map[Kind]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a backend constructor.
// This is called from init() functions in implementation packages
// (jsonfile, sqlite, bolt).
//
// Example:
//
//	func init() {
//	    provider.Register(provider.KindJSON, newStore)
//	}
func Register(k Kind, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("provider: Register constructor is nil for kind %s", k))
	}

	if _, exists := registry[k]; exists {
		panic(fmt.Sprintf("provider: Register called twice for kind %s", k))
	}

	registry[k] = constructor
}

// getConstructor retrieves the constructor for a backend kind.
// Returns nil if the kind is not registered.
func getConstructor(k Kind) Constructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[k]
}

// IsRegistered returns true if a constructor is registered for the kind.
func IsRegistered(k Kind) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[k]
	return exists
}

// RegisteredKinds returns all registered backend kinds.
// Useful for testing and error messages.
func RegisteredKinds() []Kind {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	return kinds
}

// UnregisterAll clears all registered constructors.
// This is primarily useful for testing.
func UnregisterAll() {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	registry = make(map[Kind]Constructor)
}
