package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Type describes a constructible tool type. The Name is what toolbox
// definitions put in their class field.
type Type struct {
	// Name is the unique identifier for the type.
	Name string

	// Description explains what the tool does.
	Description string

	// New returns a fresh, unconfigured instance.
	New func() any
}

// Validate checks if the type definition is valid.
func (t *Type) Validate() error {
	if t.Name == "" {
		return ErrTypeNameEmpty
	}
	if t.New == nil {
		return ErrTypeConstructorNil
	}
	return nil
}

// Registry holds all constructible tool types and provides lookup by name.
// It is thread-safe and supports registration at runtime.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type
}

// NewRegistry creates a new empty type registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*Type),
	}
}

// Register adds a type to the registry.
// Returns an error if a type with the same name already exists.
func (r *Registry) Register(t *Type) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid tool type: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrTypeAlreadyRegistered, t.Name)
	}

	r.types[t.Name] = t
	return nil
}

// MustRegister registers a type and panics on error.
// Use this for static registration at init time.
func (r *Registry) MustRegister(t *Type) {
	if err := r.Register(t); err != nil {
		panic(fmt.Sprintf("failed to register tool type %s: %v", t.Name, err))
	}
}

// Get returns a type by name, or nil if not found.
func (r *Registry) Get(name string) *Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[name]
}

// Has returns true if a type with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// Names returns all registered type names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// ToolSpec is an unclassified tool entry as read from a definition.
type ToolSpec struct {
	Key    string
	Class  string
	Scope  string // empty: the tool's declared default
	Init   *bool  // nil: decided by the type
	Params map[string]string
}

// Classify resolves a tool entry into a Descriptor. The type's constructor
// is called once here to probe its capabilities; requests never inspect
// types again.
func (r *Registry) Classify(spec ToolSpec) (*Descriptor, error) {
	if spec.Key == "" {
		return nil, ErrKeyEmpty
	}
	t := r.Get(spec.Class)
	if t == nil {
		return nil, fmt.Errorf("%w: %q (key %s)", ErrTypeNotFound, spec.Class, spec.Key)
	}

	probe, err := construct(t.New)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", spec.Class, err)
	}

	d := &Descriptor{
		Key:      spec.Key,
		TypeName: t.Name,
		Params:   spec.Params,
		kind:     KindObject,
		newFn:    t.New,
	}
	if _, ok := probe.(Initializer); ok {
		d.kind = KindViewTool
	}
	_, d.configurable = probe.(Configurable)

	switch {
	case spec.Scope != "":
		if d.Scope, err = ParseScope(spec.Scope); err != nil {
			return nil, fmt.Errorf("key %s: %w", spec.Key, err)
		}
	default:
		if sd, ok := probe.(ScopeDeclarer); ok {
			d.Scope = sd.DefaultScope()
		} else if d.kind == KindViewTool {
			d.Scope = ScopeRequest
		} else {
			d.Scope = ScopeApplication
		}
	}

	d.NeedsInit = d.kind == KindViewTool
	if spec.Init != nil {
		d.NeedsInit = *spec.Init
	}
	return d, nil
}

// Global registry instance, preloaded with the built-in tool types.
var globalRegistry = newGlobalRegistry()

func newGlobalRegistry() *Registry {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		panic(err)
	}
	return r
}

// Global returns the global type registry.
func Global() *Registry {
	return globalRegistry
}

// Register adds a type to the global registry.
func Register(t *Type) error {
	return globalRegistry.Register(t)
}

// MustRegisterGlobal registers a type in the global registry, panicking on error.
func MustRegisterGlobal(t *Type) {
	globalRegistry.MustRegister(t)
}
