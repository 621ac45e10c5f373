package model

import (
	"context"

	"viewtools/internal/tools"
	"viewtools/internal/view"
)

// TypeTool is the registered type name of Tool.
const TypeTool = "model.Tool"

// DatabaseKey is the application attribute holding the open *Database.
const DatabaseKey = "viewtools.model.database"

// RegisterTools adds the model package's tool types to registry.
func RegisterTools(registry *tools.Registry) error {
	return registry.Register(&tools.Type{
		Name:        TypeTool,
		Description: "Data model access for templates",
		New:         func() any { return &Tool{} },
	})
}

// Tool gives templates access to the model for the duration of a request:
//
//	{{range .db.Rows "books"}}{{.Get "title"}}{{end}}
//
// Declared attribute parameters are looked up among the request
// parameters first; positional arguments fill in the rest.
type Tool struct {
	db  *Database
	ctx context.Context
	src Source
}

// Init binds the tool to the request.
func (t *Tool) Init(vctx view.Context) error {
	v, _ := vctx.Application().Get(DatabaseKey)
	db, ok := v.(*Database)
	if !ok {
		return ErrNoDatabase
	}
	r := vctx.Request()
	if err := r.ParseForm(); err != nil {
		return err
	}
	t.db = db
	t.ctx = r.Context()
	t.src = RequestSource{Request: r}
	return nil
}

func (t *Tool) DefaultScope() tools.Scope { return tools.ScopeRequest }

func (t *Tool) attribute(name string) (*Attribute, error) {
	if t.db == nil {
		return nil, ErrNoDatabase
	}
	return t.db.Attribute(name)
}

// Value evaluates a scalar attribute.
func (t *Tool) Value(name string, args ...any) (any, error) {
	a, err := t.attribute(name)
	if err != nil {
		return nil, err
	}
	return a.Evaluate(t.ctx, t.src, args...)
}

// Row fetches a row attribute.
func (t *Tool) Row(name string, args ...any) (*Instance, error) {
	a, err := t.attribute(name)
	if err != nil {
		return nil, err
	}
	return a.Fetch(t.ctx, t.src, args...)
}

// Rows reads a rowset attribute completely.
func (t *Tool) Rows(name string, args ...any) ([]*Instance, error) {
	a, err := t.attribute(name)
	if err != nil {
		return nil, err
	}
	it, err := a.Query(t.ctx, t.src, args...)
	if err != nil {
		return nil, err
	}
	return it.All()
}

// Perform runs an action or transaction attribute.
func (t *Tool) Perform(name string, args ...any) (int64, error) {
	a, err := t.attribute(name)
	if err != nil {
		return 0, err
	}
	return a.Perform(t.ctx, t.src, args...)
}

// Entity returns a declared entity.
func (t *Tool) Entity(name string) (*Entity, error) {
	if t.db == nil {
		return nil, ErrNoDatabase
	}
	return t.db.Entity(name)
}

// Fetch reads an entity row by key.
func (t *Tool) Fetch(entity string, key ...any) (*Instance, error) {
	e, err := t.Entity(entity)
	if err != nil {
		return nil, err
	}
	return e.Fetch(t.ctx, key...)
}

// New returns an empty unsaved instance of an entity.
func (t *Tool) New(entity string) (*Instance, error) {
	e, err := t.Entity(entity)
	if err != nil {
		return nil, err
	}
	return e.NewInstance(nil)
}

// Eval runs an attribute of inst's entity with inst as source.
func (t *Tool) Eval(inst *Instance, name string, args ...any) (any, error) {
	return inst.Invoke(t.ctx, name, args...)
}

// Update writes inst's changes.
func (t *Tool) Update(inst *Instance) (int64, error) {
	return inst.Update(t.ctx)
}

// Insert stores inst.
func (t *Tool) Insert(inst *Instance) (string, error) {
	return "", inst.Insert(t.ctx)
}

// Delete removes inst.
func (t *Tool) Delete(inst *Instance) (int64, error) {
	return inst.Delete(t.ctx)
}
