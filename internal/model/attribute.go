package model

import (
	"context"
	"fmt"
	"strings"
)

// AttributeKind is the closed set of attribute variants.
type AttributeKind int

const (
	KindScalar AttributeKind = iota
	KindRow
	KindRowset
	KindAction
	KindTransaction
)

func (k AttributeKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindRow:
		return "row"
	case KindRowset:
		return "rowset"
	case KindAction:
		return "action"
	case KindTransaction:
		return "transaction"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses an attribute kind name.
func ParseKind(s string) (AttributeKind, error) {
	switch strings.ToLower(s) {
	case "scalar":
		return KindScalar, nil
	case "row":
		return KindRow, nil
	case "rowset", "rows":
		return KindRowset, nil
	case "action":
		return KindAction, nil
	case "transaction":
		return KindTransaction, nil
	default:
		return KindScalar, fmt.Errorf("unknown attribute kind %q", s)
	}
}

// Attribute is a named, parameterized statement.
type Attribute struct {
	name   string
	kind   AttributeKind
	query  string
	params []string
	owner  *Entity
	result *Entity

	// transaction only
	statements []string
	counts     []int
}

func newAttribute(owner *Entity, def AttributeDef) (*Attribute, error) {
	kind, err := ParseKind(def.Kind)
	if err != nil {
		return nil, fmt.Errorf("attribute %s: %w", def.Name, err)
	}
	a := &Attribute{
		name:   def.Name,
		kind:   kind,
		query:  strings.TrimSpace(def.Query),
		params: append([]string(nil), def.Params...),
		owner:  owner,
		result: owner.db.root,
	}
	if def.Result != "" {
		if kind != KindRow && kind != KindRowset {
			return nil, fmt.Errorf("attribute %s: only row and rowset attributes have a result entity", def.Name)
		}
		e, ok := owner.db.entities[def.Result]
		if !ok {
			return nil, fmt.Errorf("attribute %s: %w: %s", def.Name, ErrUnknownEntity, def.Result)
		}
		a.result = e
	}
	if kind == KindTransaction {
		a.statements = splitStatements(a.query)
		for _, s := range a.statements {
			a.counts = append(a.counts, countPlaceholders(s, owner.db.placeholder))
		}
	}
	return a, nil
}

func (a *Attribute) Name() string        { return a.name }
func (a *Attribute) Kind() AttributeKind { return a.kind }
func (a *Attribute) SQL() string         { return a.query }
func (a *Attribute) Params() []string    { return append([]string(nil), a.params...) }
func (a *Attribute) Result() *Entity     { return a.result }

func (a *Attribute) bind(src Source, args []any) ([]any, error) {
	params, err := bindParams(a.params, src, args)
	if err != nil {
		return nil, fmt.Errorf("attribute %s: %w", a.name, err)
	}
	return params, nil
}

func (a *Attribute) wrongKind(op string) error {
	return fmt.Errorf("%w: %s on %s attribute %s", ErrWrongKind, op, a.kind, a.name)
}

// Evaluate runs a scalar attribute. No row and an SQL NULL both yield nil.
func (a *Attribute) Evaluate(ctx context.Context, src Source, args ...any) (any, error) {
	if a.kind != KindScalar {
		return nil, a.wrongKind("evaluate")
	}
	params, err := a.bind(src, args)
	if err != nil {
		return nil, err
	}
	return a.owner.db.scalar(ctx, a.query, params)
}

// Fetch runs a row attribute. It returns nil when no row matches.
func (a *Attribute) Fetch(ctx context.Context, src Source, args ...any) (*Instance, error) {
	if a.kind != KindRow {
		return nil, a.wrongKind("fetch")
	}
	params, err := a.bind(src, args)
	if err != nil {
		return nil, err
	}
	return a.owner.db.row(ctx, a.result, a.query, params)
}

// Query runs a rowset attribute. The caller must exhaust or close the
// iterator.
func (a *Attribute) Query(ctx context.Context, src Source, args ...any) (*RowIterator, error) {
	if a.kind != KindRowset {
		return nil, a.wrongKind("query")
	}
	params, err := a.bind(src, args)
	if err != nil {
		return nil, err
	}
	return a.owner.db.rows(ctx, a.result, a.query, params)
}

// Perform runs an action or transaction attribute and returns the number
// of rows affected.
func (a *Attribute) Perform(ctx context.Context, src Source, args ...any) (int64, error) {
	params, err := a.bind(src, args)
	if err != nil {
		return 0, err
	}
	switch a.kind {
	case KindAction:
		return a.owner.db.exec(ctx, KindAction, a.query, params)
	case KindTransaction:
		return a.owner.db.transaction(ctx, a, params)
	default:
		return 0, a.wrongKind("perform")
	}
}

// Invoke dispatches on the attribute's kind. Rowsets are read to the end.
func (a *Attribute) Invoke(ctx context.Context, src Source, args ...any) (any, error) {
	switch a.kind {
	case KindScalar:
		return a.Evaluate(ctx, src, args...)
	case KindRow:
		inst, err := a.Fetch(ctx, src, args...)
		if err != nil || inst == nil {
			return nil, err
		}
		return inst, nil
	case KindRowset:
		it, err := a.Query(ctx, src, args...)
		if err != nil {
			return nil, err
		}
		return it.All()
	default:
		return a.Perform(ctx, src, args...)
	}
}
