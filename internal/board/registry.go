package board

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agilekit/boardsync/internal/config"
)

// AdapterFactory creates a new, uninitialized Adapter instance.
type AdapterFactory func() Adapter

// Registry maps backend kinds to adapter factories. Adapter packages
// register themselves at init time.
type Registry struct {
	mu        sync.RWMutex
	factories map[config.BackendKind]AdapterFactory
}

var globalRegistry = &Registry{
	factories: make(map[config.BackendKind]AdapterFactory),
}

// Register adds an adapter factory to the global registry. Called from
// adapter package init() functions.
func Register(kind config.BackendKind, factory AdapterFactory) {
	globalRegistry.Register(kind, factory)
}

// New creates an adapter for the given backend kind from the global registry.
func New(kind config.BackendKind) (Adapter, error) {
	return globalRegistry.New(kind)
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []config.BackendKind {
	return globalRegistry.Kinds()
}

// Register adds an adapter factory to this registry.
func (r *Registry) Register(kind config.BackendKind, factory AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// New creates an adapter for the given backend kind.
func (r *Registry) New(kind config.BackendKind) (Adapter, error) {
	r.mu.RLock()
	factory := r.factories[kind]
	r.mu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("no adapter registered for backend %q (registered: %v)", kind, r.Kinds())
	}
	return factory(), nil
}

// Kinds returns the registered backend kinds, sorted.
func (r *Registry) Kinds() []config.BackendKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]config.BackendKind, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
