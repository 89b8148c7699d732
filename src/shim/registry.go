package shim

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Loader produces a module. It runs once, on the first entrypoint call.
type Loader func(ctx context.Context) (Module, error)

// Registry maps module names to loaders.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

// DefaultRegistry is where modules register themselves from init().
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

// Register adds a loader under name.
func (r *Registry) Register(name string, load Loader) error {
	if name == "" || load == nil {
		return fmt.Errorf("register module: name and loader are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.loaders[name]; exists {
		return fmt.Errorf("module '%s' already registered", name)
	}
	r.loaders[name] = load
	return nil
}

// Lookup returns the loader registered under name.
func (r *Registry) Lookup(name string) (Loader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	load, ok := r.loaders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return load, nil
}

// Names lists registered modules in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.loaders))
	for name := range r.loaders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds a loader to DefaultRegistry and panics on conflict.
func Register(name string, load Loader) {
	if err := DefaultRegistry.Register(name, load); err != nil {
		panic(err)
	}
}

// Lookup resolves a loader from DefaultRegistry.
func Lookup(name string) (Loader, error) {
	return DefaultRegistry.Lookup(name)
}
