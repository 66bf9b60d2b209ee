package capability

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a fresh, uninitialized Implementation.
type Factory func() Implementation

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a driver available by name, typically from an init func in
// the plugin package. Registering a nil factory or the same name twice panics.
func Register(driver string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("capability: Register factory is nil")
	}
	if _, dup := factories[driver]; dup {
		panic(fmt.Sprintf("capability: Register called twice for driver %q", driver))
	}
	factories[driver] = f
}

// New constructs an implementation for the named driver.
func New(driver string) (Implementation, error) {
	factoriesMu.RLock()
	f, ok := factories[driver]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown capability driver %q (forgotten import?)", driver)
	}
	return f(), nil
}

// Drivers returns the sorted names of all registered drivers.
func Drivers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
