// Package backend maintains the table of available disassembly backends.
//
// Backends register themselves by name at startup (typically from an init
// function in their own package), so the available set is enumerable and
// testable without relying on import-order side effects.
package backend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mossline/disbatch"
)

// ErrUnknownBackend is returned when no backend matches a requested name.
var ErrUnknownBackend = errors.New("backend: unknown backend")

// Factory constructs a backend instance.
type Factory func() (disbatch.Backend, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a backend factory under a case-insensitive name. Registering
// the same name twice panics: backend names are static configuration and a
// collision is a programming error.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	key := strings.ToLower(name)
	if _, dup := factories[key]; dup {
		panic(fmt.Sprintf("backend: Register called twice for %q", name))
	}
	factories[key] = factory
}

// New constructs the backend registered under name (case-insensitive).
func New(name string) (disbatch.Backend, error) {
	mu.RLock()
	factory, ok := factories[strings.ToLower(name)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return factory()
}

// Names returns the registered backend names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
