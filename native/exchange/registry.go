package exchange

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the logic versions a proxy may point at.
type Registry struct {
	mu     sync.RWMutex
	logics map[string]Logic
}

// NewRegistry builds a registry with the supplied logic versions.
func NewRegistry(logics ...Logic) (*Registry, error) {
	r := &Registry{logics: make(map[string]Logic)}
	for _, l := range logics {
		if err := r.Register(l); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry registers V1 and V2 with shared options.
func DefaultRegistry(opts Options) *Registry {
	r, err := NewRegistry(NewV1(opts), NewV2(opts))
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds a logic version. Names must be unique and layouts valid.
func (r *Registry) Register(l Logic) error {
	if l == nil {
		return fmt.Errorf("exchange: nil logic")
	}
	name := strings.TrimSpace(l.Name())
	if name == "" {
		return fmt.Errorf("exchange: logic name must not be empty")
	}
	if err := l.Layout().Validate(); err != nil {
		return fmt.Errorf("exchange: logic %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.logics[name]; exists {
		return fmt.Errorf("exchange: logic %s already registered", name)
	}
	r.logics[name] = l
	return nil
}

// Lookup returns the logic registered under name.
func (r *Registry) Lookup(name string) (Logic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.logics[name]
	return l, ok
}

// Names lists registered logic names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.logics))
	for name := range r.logics {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
