// Package model maps declared entities and attributes onto SQL.
//
// An attribute is a named, parameterized statement of one of five kinds:
// scalar, row, rowset, action or transaction. Executing one binds its
// parameters, checks a prepared statement out of the pool, runs it with
// the owning connection marked busy and hands the statement back on every
// path. Rows come back as Instances, which track changes to their columns
// and know whether they are stored.
package model

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"viewtools/internal/metrics"
)

// Database is an opened model: the connection pools plus every entity.
type Database struct {
	sqlDB       *sql.DB
	driver      string
	placeholder Placeholder
	naming      Case

	conns      *ConnectionPool
	statements *StatementPool

	root     *Entity
	entities map[string]*Entity

	typeFilters map[reflect.Type]Filter

	log      *zap.Logger
	poolLog  *zap.Logger
	metrics  *metrics.Metrics
	observer StatementObserver

	checkInterval time.Duration
	statementIdle time.Duration
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// Option configures Open.
type Option func(*Database)

// WithLogger sets the model logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Database) {
		if l != nil {
			d.log = l
		}
	}
}

// WithPoolLogger sets the logger of the connection and statement pools.
func WithPoolLogger(l *zap.Logger) Option {
	return func(d *Database) {
		if l != nil {
			d.poolLog = l
		}
	}
}

// WithMetrics records statement executions and pool occupancy.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Database) { d.metrics = m }
}

// WithObserver registers a callback run before every statement.
func WithObserver(o StatementObserver) Option {
	return func(d *Database) { d.observer = o }
}

// WithTypeFilter sets the read filter for values of type t. A nil filter
// removes it.
func WithTypeFilter(t reflect.Type, f Filter) Option {
	return func(d *Database) {
		if f == nil {
			delete(d.typeFilters, t)
			return
		}
		d.typeFilters[t] = f
	}
}

// Open connects to the database described by def, runs its init
// statements and builds the entities.
func Open(ctx context.Context, def *Definition, opts ...Option) (*Database, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	placeholder, _ := ParsePlaceholder(def.Placeholder, def.Driver)
	naming, _ := ParseCase(def.Case)

	driver := DriverName(def.Driver)
	sqlDB, err := sql.Open(driver, def.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	d := &Database{
		sqlDB:         sqlDB,
		driver:        driver,
		placeholder:   placeholder,
		naming:        naming,
		entities:      make(map[string]*Entity),
		typeFilters:   DefaultTypeFilters(),
		log:           zap.NewNop(),
		poolLog:       zap.NewNop(),
		checkInterval: def.checkInterval(),
		statementIdle: def.statementIdle(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.conns = NewConnectionPool(sqlDB, def.maxConnections(), d.poolLog, d.metrics)
	d.statements = NewStatementPool(d.conns, d.poolLog, d.observer)
	go d.runChecker()

	if err := d.setup(ctx, def); err != nil {
		d.Close()
		return nil, err
	}
	d.log.Info("model opened",
		zap.String("driver", driver),
		zap.Int("entities", len(d.entities)),
		zap.Int("attributes", len(d.root.attributes)))
	return d, nil
}

func (d *Database) setup(ctx context.Context, def *Definition) error {
	for _, stmt := range def.Init {
		if _, err := d.sqlDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init statement %q: %w", stmt, err)
		}
	}

	d.root = newEntity(d, EntityDef{})
	for _, ed := range def.Entities {
		e := newEntity(d, ed)
		if ed.Table != "" {
			if err := e.discover(ctx); err != nil {
				return err
			}
		}
		d.entities[e.name] = e
	}

	for _, ad := range def.Attributes {
		if err := d.root.addAttribute(ad); err != nil {
			return err
		}
	}
	for _, ed := range def.Entities {
		e := d.entities[ed.Name]
		for _, ad := range ed.Attributes {
			if err := e.addAttribute(ad); err != nil {
				return fmt.Errorf("entity %s: %w", e.name, err)
			}
		}
	}
	return nil
}

// Entity returns a declared entity.
func (d *Database) Entity(name string) (*Entity, error) {
	e, ok := d.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return e, nil
}

// Attribute returns a root attribute.
func (d *Database) Attribute(name string) (*Attribute, error) {
	return d.root.Attribute(name)
}

// Placeholder returns the placeholder style of generated statements.
func (d *Database) Placeholder() Placeholder { return d.placeholder }

// Pools exposes the connection and statement pools.
func (d *Database) Pools() (*ConnectionPool, *StatementPool) {
	return d.conns, d.statements
}

// Close stops the checker and closes statements, connections and the
// underlying handle.
func (d *Database) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.stop)
		<-d.done
		d.statements.Close()
		d.conns.Close()
		err = d.sqlDB.Close()
	})
	return err
}

func (d *Database) runChecker() {
	defer close(d.done)
	ticker := time.NewTicker(d.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.check()
		}
	}
}

// check evicts broken connections and statements idle for too long.
func (d *Database) check() {
	ctx, cancel := context.WithTimeout(context.Background(), d.checkInterval)
	defer cancel()
	broken := d.conns.Check(ctx, d.statements.DropConnection)
	idle := d.statements.EvictIdle(time.Now().Add(-d.statementIdle))
	if broken > 0 || idle > 0 {
		d.poolLog.Info("pool check", zap.Int("broken_connections", broken), zap.Int("idle_statements", idle))
	}
}

// filterValue applies the type read filter registered for v's type.
func (d *Database) filterValue(v any) any {
	if v == nil {
		return nil
	}
	if f, ok := d.typeFilters[reflect.TypeOf(v)]; ok {
		return f(v)
	}
	return v
}

// withStatement runs fn with a checked-out statement, its connection
// marked busy.
func (d *Database) withStatement(ctx context.Context, query string, fn func(*PooledStatement) error) error {
	st, err := d.statements.Statement(ctx, query)
	if err != nil {
		return err
	}
	defer st.NotifyOver()
	st.conn.EnterBusy()
	defer st.conn.LeaveBusy()
	return fn(st)
}

func (d *Database) scalar(ctx context.Context, query string, args []any) (value any, err error) {
	defer func() { d.metrics.StatementExecuted(KindScalar.String(), err) }()
	err = d.withStatement(ctx, query, func(st *PooledStatement) error {
		rows, err := st.Query(ctx, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if rows.Next() {
			cols, err := rows.Columns()
			if err != nil {
				return err
			}
			vals, err := scanRow(rows, len(cols))
			if err != nil {
				return err
			}
			value = d.filterValue(vals[0])
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("scalar %q: %w", query, err)
	}
	return value, nil
}

func (d *Database) row(ctx context.Context, e *Entity, query string, args []any) (inst *Instance, err error) {
	defer func() { d.metrics.StatementExecuted(KindRow.String(), err) }()
	err = d.withStatement(ctx, query, func(st *PooledStatement) error {
		rows, err := st.Query(ctx, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if rows.Next() {
			cols, err := rows.Columns()
			if err != nil {
				return err
			}
			vals, err := scanRow(rows, len(cols))
			if err != nil {
				return err
			}
			inst = e.newInstance()
			inst.SetInitialValues(cols, vals)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("row %q: %w", query, err)
	}
	return inst, nil
}

// rows hands the statement, still busy, to the returned iterator.
func (d *Database) rows(ctx context.Context, e *Entity, query string, args []any) (it *RowIterator, err error) {
	defer func() { d.metrics.StatementExecuted(KindRowset.String(), err) }()
	st, err := d.statements.Statement(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rowset %q: %w", query, err)
	}
	st.conn.EnterBusy()
	handedOff := false
	defer func() {
		if !handedOff {
			st.conn.LeaveBusy()
			st.NotifyOver()
		}
	}()

	rows, err := st.Query(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("rowset %q: %w", query, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("rowset %q: %w", query, err)
	}
	handedOff = true
	return newRowIterator(e, rows, st, cols), nil
}

func (d *Database) exec(ctx context.Context, kind AttributeKind, query string, args []any) (affected int64, err error) {
	defer func() { d.metrics.StatementExecuted(kind.String(), err) }()
	err = d.withStatement(ctx, query, func(st *PooledStatement) error {
		res, err := st.Exec(ctx, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", kind, query, err)
	}
	return affected, nil
}

func scanRow(rows *sql.Rows, n int) ([]any, error) {
	vals := make([]any, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}

// insertLastID runs an insert and returns the generated key.
func (d *Database) insertLastID(ctx context.Context, query string, args []any) (id any, err error) {
	defer func() { d.metrics.StatementExecuted(KindAction.String(), err) }()
	err = d.withStatement(ctx, query, func(st *PooledStatement) error {
		res, err := st.Exec(ctx, args...)
		if err != nil {
			return err
		}
		n, err := res.LastInsertId()
		id = n
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert %q: %w", query, err)
	}
	return id, nil
}

// insertReturning runs an INSERT ... RETURNING and reads the single value
// it returns.
func (d *Database) insertReturning(ctx context.Context, query string, args []any) (id any, err error) {
	defer func() { d.metrics.StatementExecuted(KindAction.String(), err) }()
	err = d.withStatement(ctx, query, func(st *PooledStatement) error {
		rows, err := st.Query(ctx, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return err
			}
			return sql.ErrNoRows
		}
		if err := rows.Scan(&id); err != nil {
			return err
		}
		id = d.filterValue(id)
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("insert %q: %w", query, err)
	}
	return id, nil
}
