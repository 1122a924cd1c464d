package resource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is the table of known resource kinds, populated explicitly at
// startup. Lookups are case-insensitive.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]*Descriptor)}
}

// Register adds a descriptor. Registering a name twice panics: resource
// kinds are static configuration and a collision is a programming error.
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(d.Name)
	if _, dup := r.kinds[key]; dup {
		panic(fmt.Sprintf("resource: Register called twice for %q", d.Name))
	}
	r.kinds[key] = d
}

// Lookup finds a descriptor by case-insensitive name.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.kinds[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, name)
	}
	return d, nil
}

// Names returns the registered kind names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Require resolves a kind by name and fetches it through the cache,
// returning the local path. An unknown name is a hard failure.
func (r *Registry) Require(ctx context.Context, c *Cache, name string) (string, error) {
	d, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	return c.Get(ctx, d)
}

// CacheAll pre-fetches every registered kind into root, best-effort: a kind
// that fails to download is logged through the cache's logger and skipped.
func (r *Registry) CacheAll(ctx context.Context, c *Cache, root string) {
	for _, name := range r.Names() {
		d, err := r.Lookup(name)
		if err != nil {
			continue
		}
		if _, err := c.CacheTo(ctx, d, root); err != nil {
			c.log().Warn("pre-fetch failed", "resource", d.Name, "err", err)
		}
	}
}

// Default is the process-wide registry used by the package-level helpers.
var Default = NewRegistry()

// Register adds a descriptor to the default registry.
func Register(d *Descriptor) { Default.Register(d) }

// Require resolves and fetches a kind from the default registry.
func Require(ctx context.Context, c *Cache, name string) (string, error) {
	return Default.Require(ctx, c, name)
}

// CacheAll pre-fetches every kind in the default registry into root.
func CacheAll(ctx context.Context, c *Cache, root string) {
	Default.CacheAll(ctx, c, root)
}
