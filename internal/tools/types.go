// Package tools manages the helper objects exposed to templates.
//
// A toolbox definition lists tools (a key plus a registered type name) and
// data entries (a key plus a constant). Each entry is classified once, when
// the definition is loaded, into a Descriptor with a Kind and a Scope. The
// Manager then assembles, for every request, one flat key→instance map:
//
//	application tools (built once) + session tools (built once per session) + request tools (built every time)
package tools

import (
	"fmt"
	"strings"

	"viewtools/internal/view"
)

// Scope governs how long a tool instance lives and who shares it.
type Scope int

const (
	// ScopeRequest tools are constructed for every request.
	ScopeRequest Scope = iota

	// ScopeSession tools are constructed once per session.
	ScopeSession

	// ScopeApplication tools are constructed once and shared by every request.
	ScopeApplication
)

func (s Scope) String() string {
	switch s {
	case ScopeRequest:
		return "request"
	case ScopeSession:
		return "session"
	case ScopeApplication:
		return "application"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ParseScope maps a configured scope name onto a Scope.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "request":
		return ScopeRequest, nil
	case "session":
		return ScopeSession, nil
	case "application":
		return ScopeApplication, nil
	default:
		return ScopeRequest, fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
}

// Kind classifies how a descriptor produces its value.
type Kind int

const (
	// KindData is a constant configured in the toolbox definition.
	KindData Kind = iota

	// KindObject is a plain tool: constructed, optionally configured, never
	// given a view context.
	KindObject

	// KindViewTool is a tool implementing Initializer.
	KindViewTool
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindObject:
		return "object"
	case KindViewTool:
		return "view-tool"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Initializer is implemented by tools that need the view context of the
// request they are created for.
type Initializer interface {
	Init(ctx view.Context) error
}

// Configurable is implemented by tools accepting parameters from the
// toolbox definition. Configure runs before Init.
type Configurable interface {
	Configure(params map[string]string) error
}

// ScopeDeclarer is implemented by tools that know their natural scope. It
// applies when the definition does not name one.
type ScopeDeclarer interface {
	DefaultScope() Scope
}

// Descriptor is one classified toolbox entry. Descriptors are immutable once
// handed to a Manager.
type Descriptor struct {
	// Key is the name templates use.
	Key string

	// TypeName names the registered type (empty for data).
	TypeName string

	// Value is the constant of a data entry.
	Value any

	// Scope decides sharing and recreation.
	Scope Scope

	// NeedsInit is true when instances must receive the view context.
	NeedsInit bool

	// Params are handed to Configurable tools.
	Params map[string]string

	kind         Kind
	configurable bool
	newFn        func() any
}

// Kind returns the classification decided at load time.
func (d *Descriptor) Kind() Kind { return d.kind }

// Validate checks if the descriptor is usable.
func (d *Descriptor) Validate() error {
	if d.Key == "" {
		return ErrKeyEmpty
	}
	if d.kind != KindData && d.newFn == nil {
		return fmt.Errorf("%w: %s", ErrTypeConstructorNil, d.Key)
	}
	return nil
}

// DataDescriptor returns an application-scoped constant.
func DataDescriptor(key string, value any) *Descriptor {
	return &Descriptor{Key: key, Value: value, Scope: ScopeApplication, kind: KindData}
}

// newInstance produces the value for one scope build.
func (d *Descriptor) newInstance(ctx view.Context) (obj any, err error) {
	if d.kind == KindData {
		return d.Value, nil
	}
	defer func() {
		if r := recover(); r != nil {
			obj, err = nil, fmt.Errorf("%s: %w: %v", d.Key, ErrToolPanic, r)
		}
	}()

	obj, err = construct(d.newFn)
	if err != nil {
		return nil, fmt.Errorf("%s (%s): %w", d.Key, d.TypeName, err)
	}

	if d.configurable {
		if c, ok := obj.(Configurable); ok {
			if err := c.Configure(d.Params); err != nil {
				return nil, fmt.Errorf("%s: configure: %w", d.Key, err)
			}
		}
	}

	if d.NeedsInit {
		in, ok := obj.(Initializer)
		if !ok {
			return nil, fmt.Errorf("%w: %s (%T)", ErrInitUnsupported, d.Key, obj)
		}
		if err := in.Init(ctx); err != nil {
			return nil, fmt.Errorf("%s: init: %w", d.Key, err)
		}
	}
	return obj, nil
}

// construct calls a constructor, turning panics and nil results into errors.
func construct(newFn func() any) (obj any, err error) {
	defer func() {
		if r := recover(); r != nil {
			obj, err = nil, fmt.Errorf("%w: %v", ErrToolPanic, r)
		}
	}()
	obj = newFn()
	if obj == nil {
		return nil, ErrNilInstance
	}
	return obj, nil
}
