package model

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Entity is a named relation: its table, key fields, column naming and
// attributes. The root entity of a Database has no table and holds the
// root attributes.
type Entity struct {
	db            *Database
	name          string
	table         string
	keys          []string
	autoincrement bool

	aliases      map[string]string // field -> column
	columnFields map[string]string // column -> field
	filters      map[string]Filter

	// discovered from the table, in column order
	fields     []string
	columns    []string
	fieldIndex map[string]int

	attributes map[string]*Attribute
}

func newEntity(db *Database, def EntityDef) *Entity {
	e := &Entity{
		db:            db,
		name:          def.Name,
		table:         def.Table,
		keys:          append([]string(nil), def.Keys...),
		autoincrement: def.Autoincrement,
		aliases:       make(map[string]string),
		columnFields:  make(map[string]string),
		filters:       make(map[string]Filter),
		fieldIndex:    make(map[string]int),
		attributes:    make(map[string]*Attribute),
	}
	for field, column := range def.Aliases {
		e.aliases[field] = column
		e.columnFields[strings.ToLower(column)] = field
	}
	for field, name := range def.Filters {
		f, ok := LookupFilter(name)
		if !ok {
			db.log.Warn("unknown column filter ignored",
				zap.String("entity", def.Name), zap.String("field", field), zap.String("filter", name))
			continue
		}
		e.filters[field] = f
	}
	return e
}

// discover reads the table's columns without fetching any row.
func (e *Entity) discover(ctx context.Context) error {
	rows, err := e.db.sqlDB.QueryContext(ctx, "SELECT * FROM "+e.table+" WHERE 1=0")
	if err != nil {
		return fmt.Errorf("entity %s: discover columns: %w", e.name, err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("entity %s: discover columns: %w", e.name, err)
	}
	for i, col := range cols {
		field := e.fieldFor(col)
		e.fields = append(e.fields, field)
		e.columns = append(e.columns, col)
		e.fieldIndex[field] = i
	}
	for _, k := range e.keys {
		if _, ok := e.fieldIndex[k]; !ok {
			return fmt.Errorf("entity %s: key %s is not a column of %s", e.name, k, e.table)
		}
	}
	return nil
}

func (e *Entity) addAttribute(def AttributeDef) error {
	a, err := newAttribute(e, def)
	if err != nil {
		return err
	}
	if _, dup := e.attributes[a.name]; dup {
		return fmt.Errorf("attribute %s declared twice", a.name)
	}
	e.attributes[a.name] = a
	return nil
}

// fieldFor maps a result column onto a field name.
func (e *Entity) fieldFor(column string) string {
	if f, ok := e.columnFields[strings.ToLower(column)]; ok {
		return f
	}
	return e.db.naming.Apply(column)
}

// columnFor maps a field name onto its column.
func (e *Entity) columnFor(field string) string {
	if i, ok := e.fieldIndex[field]; ok {
		return e.columns[i]
	}
	if c, ok := e.aliases[field]; ok {
		return c
	}
	return field
}

func (e *Entity) isKey(field string) bool {
	for _, k := range e.keys {
		if k == field {
			return true
		}
	}
	return false
}

func (e *Entity) Name() string  { return e.name }
func (e *Entity) Table() string { return e.table }

// Keys returns the key field names.
func (e *Entity) Keys() []string { return append([]string(nil), e.keys...) }

// Fields returns the field names of the table's columns.
func (e *Entity) Fields() []string { return append([]string(nil), e.fields...) }

// Attribute returns a named attribute.
func (e *Entity) Attribute(name string) (*Attribute, error) {
	a, ok := e.attributes[name]
	if !ok {
		if e.name == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAttribute, name)
		}
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, e.name, name)
	}
	return a, nil
}

// AttributeNames returns the attribute names, sorted.
func (e *Entity) AttributeNames() []string {
	names := make([]string, 0, len(e.attributes))
	for n := range e.attributes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e *Entity) newInstance() *Instance {
	return e.Wrap(NewMapRecord())
}

// Wrap makes an unsaved Instance over an existing record.
func (e *Entity) Wrap(rec Record) *Instance {
	return &Instance{entity: e, record: rec, dirty: newBitset(len(e.fields))}
}

// NewInstance makes an unsaved Instance holding values.
func (e *Entity) NewInstance(values map[string]any) (*Instance, error) {
	inst := e.newInstance()
	fields := make([]string, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if err := inst.Set(f, values[f]); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// Fetch returns the row with the given key values, or nil.
func (e *Entity) Fetch(ctx context.Context, key ...any) (*Instance, error) {
	if e.table == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, e.name)
	}
	if len(e.keys) == 0 || len(key) != len(e.keys) {
		return nil, fmt.Errorf("%w: %s takes %d key values, got %d", ErrMissingKey, e.name, len(e.keys), len(key))
	}
	query := "SELECT * FROM " + e.table + " WHERE " + e.keyClause(1)
	return e.db.row(ctx, e, query, key)
}

// Iterate returns every row of the table.
func (e *Entity) Iterate(ctx context.Context) (*RowIterator, error) {
	if e.table == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, e.name)
	}
	return e.db.rows(ctx, e, "SELECT * FROM "+e.table, nil)
}

// keyClause renders "k1 = ? AND k2 = ?" with placeholders numbered from n.
func (e *Entity) keyClause(n int) string {
	parts := make([]string, len(e.keys))
	for i, k := range e.keys {
		parts[i] = e.columnFor(k) + " = " + e.db.placeholder.Format(n+i)
	}
	return strings.Join(parts, " AND ")
}
