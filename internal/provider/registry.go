package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor creates a provider instance.
// Implementations register themselves using Register().
type Constructor func() Provider

// constructors maps provider names to their constructors.
var (
	constructors     = make(map[string]Constructor)
	constructorMutex sync.RWMutex
)

// Register registers a provider constructor.
// This is called from init() functions in implementation packages.
//
// Example:
//
//	func init() {
//	    provider.Register(provider.NameKeep, func() provider.Provider { return New() })
//	}
func Register(name string, constructor Constructor) {
	constructorMutex.Lock()
	defer constructorMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("provider: Register constructor is nil for %s", name))
	}
	if _, exists := constructors[name]; exists {
		panic(fmt.Sprintf("provider: Register called twice for %s", name))
	}
	constructors[name] = constructor
}

// RegisteredNames returns all registered provider names, sorted.
func RegisteredNames() []string {
	constructorMutex.RLock()
	defer constructorMutex.RUnlock()

	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry holds the instantiated providers for one process and tracks
// which cloud-backup provider the manual "sync now" action targets.
// It is constructed once at startup and passed by reference; there is
// no ambient global instance.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	active    string
}

// NewRegistry instantiates every registered provider.
func NewRegistry() (*Registry, error) {
	constructorMutex.RLock()
	defer constructorMutex.RUnlock()

	if len(constructors) == 0 {
		return nil, fmt.Errorf("provider: no providers registered")
	}

	r := &Registry{providers: make(map[string]Provider, len(constructors))}
	for name, ctor := range constructors {
		r.providers[name] = ctor()
	}
	return r, nil
}

// NewRegistryWith builds a registry from explicit instances. Primarily
// useful for tests that inject fakes.
func NewRegistryWith(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider: unknown provider %q", name)
	}
	return p, nil
}

// Names returns the names of all instantiated providers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetActive selects the provider targeted by manual sync triggers.
func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider: unknown provider %q", name)
	}
	r.active = name
	return nil
}

// Active returns the currently selected provider, or nil if none has
// been selected.
func (r *Registry) Active() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.active == "" {
		return nil
	}
	return r.providers[r.active]
}
