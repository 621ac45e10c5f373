package model

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Instance is one row of an entity. Changes to non-key fields set a dirty
// bit; Update writes exactly the dirty fields. Instances are not safe for
// concurrent use.
type Instance struct {
	entity    *Entity
	record    Record
	dirty     bitset
	persisted bool
}

// Entity returns the owning entity.
func (i *Instance) Entity() *Entity { return i.entity }

// Record returns the backing record.
func (i *Instance) Record() Record { return i.record }

// Get returns a field value, or nil.
func (i *Instance) Get(field string) any {
	v, _ := i.record.Get(field)
	return v
}

// Lookup makes an Instance usable as a parameter Source.
func (i *Instance) Lookup(field string) (any, bool) {
	return i.record.Get(field)
}

// Fields returns the fields held by the record.
func (i *Instance) Fields() []string {
	return i.record.Fields()
}

// Set changes a field. Changing a key field of a stored row detaches it:
// the row no longer maps to the stored key.
func (i *Instance) Set(field string, value any) error {
	if err := i.record.Set(field, value); err != nil {
		return err
	}
	if i.entity.isKey(field) {
		i.persisted = false
		return nil
	}
	if idx, ok := i.entity.fieldIndex[field]; ok {
		i.dirty.set(idx)
	}
	return nil
}

// Put is Set for templates: {{.book.Put "title" "New"}}.
func (i *Instance) Put(field string, value any) (string, error) {
	return "", i.Set(field, value)
}

// SetInitialValues fills the instance from a result row, then clears the
// dirty bits. The row counts as stored when the entity has keys.
func (i *Instance) SetInitialValues(columns []string, values []any) {
	db := i.entity.db
	for n, col := range columns {
		field := i.entity.fieldFor(col)
		v := values[n]
		if f, ok := i.entity.filters[field]; ok {
			v = f(v)
		}
		v = db.filterValue(v)
		if err := i.record.Set(field, v); err != nil {
			db.log.Debug("column not stored in record",
				zap.String("entity", i.entity.name), zap.String("field", field), zap.Error(err))
		}
	}
	i.dirty.clear()
	i.persisted = len(i.entity.keys) > 0
}

// IsDirty reports whether any field changed since the row was read or
// written.
func (i *Instance) IsDirty() bool { return i.dirty.count() > 0 }

// DirtyCount returns the number of changed fields.
func (i *Instance) DirtyCount() int { return i.dirty.count() }

// IsPersisted reports whether the row maps to a stored row.
func (i *Instance) IsPersisted() bool { return i.persisted }

// Update writes the dirty fields. A clean instance executes nothing.
func (i *Instance) Update(ctx context.Context) (int64, error) {
	e := i.entity
	if !i.persisted {
		return 0, fmt.Errorf("%w: update of unsaved %s", ErrIllegalState, e.name)
	}
	if !i.IsDirty() {
		return 0, nil
	}

	var sets []string
	var args []any
	for idx, field := range e.fields {
		if !i.dirty.test(idx) {
			continue
		}
		args = append(args, i.Get(field))
		sets = append(sets, e.columns[idx]+" = "+e.db.placeholder.Format(len(args)))
	}
	keys, err := i.keyValues()
	if err != nil {
		return 0, err
	}
	query := "UPDATE " + e.table + " SET " + strings.Join(sets, ", ") + " WHERE " + e.keyClause(len(args)+1)

	n, err := e.db.exec(ctx, KindAction, query, append(args, keys...))
	if err != nil {
		return 0, err
	}
	i.dirty.clear()
	return n, nil
}

// Insert stores a new row. For an autoincrement key left empty the
// generated value is read back into the instance.
func (i *Instance) Insert(ctx context.Context) error {
	e := i.entity
	if i.persisted {
		return fmt.Errorf("%w: insert of stored %s", ErrIllegalState, e.name)
	}
	if e.table == "" {
		return fmt.Errorf("%w: %s", ErrNoTable, e.name)
	}

	generated := ""
	if e.autoincrement && len(e.keys) == 1 {
		if v, ok := i.record.Get(e.keys[0]); !ok || v == nil {
			generated = e.keys[0]
		}
	}

	var cols, marks []string
	var args []any
	for _, field := range e.fields {
		if field == generated {
			continue
		}
		v, ok := i.record.Get(field)
		if !ok {
			continue
		}
		args = append(args, v)
		cols = append(cols, e.columnFor(field))
		marks = append(marks, e.db.placeholder.Format(len(args)))
	}

	query := "INSERT INTO " + e.table + " DEFAULT VALUES"
	if len(cols) > 0 {
		query = "INSERT INTO " + e.table + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
	}

	switch {
	case generated != "" && e.db.placeholder == PlaceholderDollar:
		id, err := e.db.insertReturning(ctx, query+" RETURNING "+e.columnFor(generated), args)
		if err != nil {
			return err
		}
		if err := i.record.Set(generated, id); err != nil {
			return err
		}
	case generated != "":
		id, err := e.db.insertLastID(ctx, query, args)
		if err != nil {
			return err
		}
		if err := i.record.Set(generated, id); err != nil {
			return err
		}
	default:
		if _, err := e.db.exec(ctx, KindAction, query, args); err != nil {
			return err
		}
	}

	i.dirty.clear()
	i.persisted = len(e.keys) > 0
	return nil
}

// Delete removes the stored row. The instance becomes unsaved.
func (i *Instance) Delete(ctx context.Context) (int64, error) {
	e := i.entity
	if !i.persisted {
		return 0, fmt.Errorf("%w: delete of unsaved %s", ErrIllegalState, e.name)
	}
	keys, err := i.keyValues()
	if err != nil {
		return 0, err
	}
	n, err := e.db.exec(ctx, KindAction, "DELETE FROM "+e.table+" WHERE "+e.keyClause(1), keys)
	if err != nil {
		return 0, err
	}
	i.persisted = false
	return n, nil
}

func (i *Instance) keyValues() ([]any, error) {
	vals := make([]any, len(i.entity.keys))
	for n, k := range i.entity.keys {
		v, ok := i.record.Get(k)
		if !ok || v == nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingKey, i.entity.name, k)
		}
		vals[n] = v
	}
	return vals, nil
}

// Evaluate runs a scalar attribute of the entity with this row as source.
func (i *Instance) Evaluate(ctx context.Context, name string, args ...any) (any, error) {
	a, err := i.entity.Attribute(name)
	if err != nil {
		return nil, err
	}
	return a.Evaluate(ctx, i, args...)
}

// Fetch runs a row attribute of the entity with this row as source.
func (i *Instance) Fetch(ctx context.Context, name string, args ...any) (*Instance, error) {
	a, err := i.entity.Attribute(name)
	if err != nil {
		return nil, err
	}
	return a.Fetch(ctx, i, args...)
}

// Query runs a rowset attribute of the entity with this row as source.
func (i *Instance) Query(ctx context.Context, name string, args ...any) (*RowIterator, error) {
	a, err := i.entity.Attribute(name)
	if err != nil {
		return nil, err
	}
	return a.Query(ctx, i, args...)
}

// Perform runs an action or transaction attribute of the entity with this
// row as source.
func (i *Instance) Perform(ctx context.Context, name string, args ...any) (int64, error) {
	a, err := i.entity.Attribute(name)
	if err != nil {
		return 0, err
	}
	return a.Perform(ctx, i, args...)
}

// Invoke runs any attribute of the entity with this row as source.
func (i *Instance) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	a, err := i.entity.Attribute(name)
	if err != nil {
		return nil, err
	}
	return a.Invoke(ctx, i, args...)
}
