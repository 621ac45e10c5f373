package tools

import (
	"errors"
	"testing"

	"viewtools/internal/view"
)

type plainTool struct{}

type contextTool struct{ ctx view.Context }

func (c *contextTool) Init(ctx view.Context) error {
	c.ctx = ctx
	return nil
}

type sessionDeclared struct{ contextTool }

func (s *sessionDeclared) DefaultScope() Scope { return ScopeSession }

type configTool struct{ params map[string]string }

func (c *configTool) Configure(params map[string]string) error {
	c.params = params
	return nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if reg.Count() != 0 {
		t.Errorf("new registry should be empty, got %d types", reg.Count())
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	typ := &Type{
		Name:        "test.Plain",
		Description: "A test tool",
		New:         func() any { return &plainTool{} },
	}

	if err := reg.Register(typ); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := reg.Get("test.Plain")
	if got == nil {
		t.Fatal("Get returned nil for registered type")
	}
	if got.Name != "test.Plain" {
		t.Errorf("got name %q, want %q", got.Name, "test.Plain")
	}
	if !reg.Has("test.Plain") || reg.Has("test.Missing") {
		t.Error("Has reported the wrong membership")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	typ := &Type{Name: "dupe", New: func() any { return &plainTool{} }}

	if err := reg.Register(typ); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}

	err := reg.Register(typ)
	if !errors.Is(err, ErrTypeAlreadyRegistered) {
		t.Fatalf("expected ErrTypeAlreadyRegistered, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name    string
		typ     *Type
		wantErr error
	}{
		{
			name:    "empty name",
			typ:     &Type{Name: "", New: func() any { return &plainTool{} }},
			wantErr: ErrTypeNameEmpty,
		},
		{
			name:    "nil constructor",
			typ:     &Type{Name: "test", New: nil},
			wantErr: ErrTypeConstructorNil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.typ)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGlobalHasBuiltins(t *testing.T) {
	for _, name := range []string{TypeParameter, TypeDate, TypeSession} {
		if !Global().Has(name) {
			t.Errorf("global registry missing %s", name)
		}
	}
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister(&Type{Name: "test.Plain", New: func() any { return &plainTool{} }})
	reg.MustRegister(&Type{Name: "test.Context", New: func() any { return &contextTool{} }})
	reg.MustRegister(&Type{Name: "test.Session", New: func() any { return &sessionDeclared{} }})
	reg.MustRegister(&Type{Name: "test.Config", New: func() any { return &configTool{} }})
	reg.MustRegister(&Type{Name: "test.Nil", New: func() any { return nil }})
	return reg
}

func TestClassify(t *testing.T) {
	reg := testRegistry(t)
	yes := true

	tests := []struct {
		name      string
		spec      ToolSpec
		wantKind  Kind
		wantScope Scope
		wantInit  bool
	}{
		{"plain defaults to application", ToolSpec{Key: "p", Class: "test.Plain"}, KindObject, ScopeApplication, false},
		{"view tool defaults to request", ToolSpec{Key: "c", Class: "test.Context"}, KindViewTool, ScopeRequest, true},
		{"declared default scope", ToolSpec{Key: "s", Class: "test.Session"}, KindViewTool, ScopeSession, true},
		{"explicit scope wins", ToolSpec{Key: "s", Class: "test.Session", Scope: "Application"}, KindViewTool, ScopeApplication, true},
		{"explicit init on plain type", ToolSpec{Key: "p", Class: "test.Plain", Scope: "request", Init: &yes}, KindObject, ScopeRequest, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := reg.Classify(tt.spec)
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if d.Kind() != tt.wantKind {
				t.Errorf("kind = %v, want %v", d.Kind(), tt.wantKind)
			}
			if d.Scope != tt.wantScope {
				t.Errorf("scope = %v, want %v", d.Scope, tt.wantScope)
			}
			if d.NeedsInit != tt.wantInit {
				t.Errorf("needsInit = %v, want %v", d.NeedsInit, tt.wantInit)
			}
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	reg := testRegistry(t)

	if _, err := reg.Classify(ToolSpec{Class: "test.Plain"}); !errors.Is(err, ErrKeyEmpty) {
		t.Errorf("expected ErrKeyEmpty, got %v", err)
	}
	if _, err := reg.Classify(ToolSpec{Key: "x", Class: "com.example.Missing"}); !errors.Is(err, ErrTypeNotFound) {
		t.Errorf("expected ErrTypeNotFound, got %v", err)
	}
	if _, err := reg.Classify(ToolSpec{Key: "x", Class: "test.Plain", Scope: "page"}); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("expected ErrInvalidScope, got %v", err)
	}
	if _, err := reg.Classify(ToolSpec{Key: "x", Class: "test.Nil"}); !errors.Is(err, ErrNilInstance) {
		t.Errorf("expected ErrNilInstance, got %v", err)
	}
}

func TestParseScope(t *testing.T) {
	for _, s := range []Scope{ScopeRequest, ScopeSession, ScopeApplication} {
		got, err := ParseScope(s.String())
		if err != nil || got != s {
			t.Errorf("ParseScope(%q) = %v, %v", s.String(), got, err)
		}
	}
}
