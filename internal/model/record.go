package model

import "fmt"

// Record stores the field values of an Instance.
type Record interface {
	Get(field string) (any, bool)
	Set(field string, value any) error
	Fields() []string
}

// mapRecord keeps fields in insertion order.
type mapRecord struct {
	order  []string
	values map[string]any
}

// NewMapRecord returns an empty map-backed record.
func NewMapRecord() Record {
	return &mapRecord{values: make(map[string]any)}
}

func (r *mapRecord) Get(field string) (any, bool) {
	v, ok := r.values[field]
	return v, ok
}

func (r *mapRecord) Set(field string, value any) error {
	if _, ok := r.values[field]; !ok {
		r.order = append(r.order, field)
	}
	r.values[field] = value
	return nil
}

func (r *mapRecord) Fields() []string {
	return append([]string(nil), r.order...)
}

// Field maps one field name onto an accessor pair of a struct type.
// A nil Set makes the field read-only.
type Field[T any] struct {
	Name string
	Get  func(*T) any
	Set  func(*T, any) error
}

// ObjectRecord exposes an existing struct as a Record through explicit
// accessors.
type ObjectRecord[T any] struct {
	obj    *T
	fields []Field[T]
	index  map[string]int
}

// NewObjectRecord wraps obj.
func NewObjectRecord[T any](obj *T, fields ...Field[T]) *ObjectRecord[T] {
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		index[f.Name] = i
	}
	return &ObjectRecord[T]{obj: obj, fields: fields, index: index}
}

// Object returns the wrapped struct.
func (r *ObjectRecord[T]) Object() *T {
	return r.obj
}

func (r *ObjectRecord[T]) Get(field string) (any, bool) {
	i, ok := r.index[field]
	if !ok {
		return nil, false
	}
	return r.fields[i].Get(r.obj), true
}

func (r *ObjectRecord[T]) Set(field string, value any) error {
	i, ok := r.index[field]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if r.fields[i].Set == nil {
		return fmt.Errorf("field %s is read-only", field)
	}
	return r.fields[i].Set(r.obj, value)
}

func (r *ObjectRecord[T]) Fields() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}
