package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a strategy from its configuration and collaborators.
type Factory func(cfg Config, deps Deps) Strategy

// Registry maps strategy names to factories. It is safe for concurrent use.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns a Registry with the built-in strategies registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("replace", func(cfg Config, deps Deps) Strategy { return NewReplace(cfg, deps) })
	r.Register("target", func(cfg Config, deps Deps) Strategy { return NewTarget(cfg, deps) })
	return r
}

// Register adds a factory under name, replacing any existing one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build constructs the strategy registered under cfg.Name.
func (r *Registry) Build(cfg Config, deps Deps) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", cfg.Name)
	}
	return f(cfg, deps), nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
