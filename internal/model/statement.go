package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StatementObserver is told about every statement about to be executed.
type StatementObserver func(query string, args []any)

// PooledStatement is a prepared statement checked out together with its
// connection. NotifyOver hands both back.
type PooledStatement struct {
	pool  *StatementPool
	conn  *PooledConnection
	stmt  *sql.Stmt
	query string

	// guarded by StatementPool.mu
	inUse   bool
	lastUse time.Time
}

// Conn returns the owning connection.
func (s *PooledStatement) Conn() *PooledConnection { return s.conn }

// Query runs the statement and returns its rows.
func (s *PooledStatement) Query(ctx context.Context, args ...any) (*sql.Rows, error) {
	s.pool.observe(s.query, args)
	return s.stmt.QueryContext(ctx, args...)
}

// Exec runs the statement for its side effects.
func (s *PooledStatement) Exec(ctx context.Context, args ...any) (sql.Result, error) {
	s.pool.observe(s.query, args)
	return s.stmt.ExecContext(ctx, args...)
}

// NotifyOver returns the statement and its connection to the pools. Calls
// after the first are ignored.
func (s *PooledStatement) NotifyOver() {
	p := s.pool
	p.mu.Lock()
	if !s.inUse {
		p.mu.Unlock()
		return
	}
	s.inUse = false
	s.lastUse = p.now()
	p.mu.Unlock()
	p.conns.Release(s.conn)
}

type stmtKey struct {
	conn  *PooledConnection
	query string
}

// StatementPool caches prepared statements per connection and query text.
type StatementPool struct {
	conns    *ConnectionPool
	log      *zap.Logger
	observer StatementObserver
	now      func() time.Time

	mu    sync.Mutex
	stmts map[stmtKey]*PooledStatement
}

// NewStatementPool creates a statement cache drawing on conns.
func NewStatementPool(conns *ConnectionPool, log *zap.Logger, observer StatementObserver) *StatementPool {
	if log == nil {
		log = zap.NewNop()
	}
	return &StatementPool{
		conns:    conns,
		log:      log,
		observer: observer,
		now:      time.Now,
		stmts:    make(map[stmtKey]*PooledStatement),
	}
}

// Statement checks out a prepared statement for query, preferring an idle
// connection that has already prepared it.
func (p *StatementPool) Statement(ctx context.Context, query string) (*PooledStatement, error) {
	p.mu.Lock()
	prepared := make(map[*PooledConnection]bool)
	for k := range p.stmts {
		if k.query == query {
			prepared[k.conn] = true
		}
	}
	p.mu.Unlock()

	conn, err := p.conns.Acquire(ctx, func(c *PooledConnection) bool { return prepared[c] })
	if err != nil {
		return nil, err
	}

	key := stmtKey{conn: conn, query: query}
	p.mu.Lock()
	if st, ok := p.stmts[key]; ok {
		st.inUse = true
		p.mu.Unlock()
		return st, nil
	}
	p.mu.Unlock()

	stmt, err := conn.conn.PrepareContext(ctx, query)
	if err != nil {
		p.conns.Release(conn)
		return nil, fmt.Errorf("prepare %q: %w", query, err)
	}
	st := &PooledStatement{pool: p, conn: conn, stmt: stmt, query: query, inUse: true}
	p.mu.Lock()
	p.stmts[key] = st
	p.mu.Unlock()
	p.log.Debug("statement prepared", zap.Int("conn", conn.id), zap.String("query", query))
	return st, nil
}

// EvictIdle closes statements unused since before cutoff.
func (p *StatementPool) EvictIdle(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, st := range p.stmts {
		if st.inUse || !st.lastUse.Before(cutoff) {
			continue
		}
		if err := st.stmt.Close(); err != nil {
			p.log.Debug("statement close failed", zap.String("query", k.query), zap.Error(err))
		}
		delete(p.stmts, k)
		n++
	}
	return n
}

// DropConnection closes every statement prepared on c.
func (p *StatementPool) DropConnection(c *PooledConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, st := range p.stmts {
		if k.conn == c {
			st.stmt.Close()
			delete(p.stmts, k)
		}
	}
}

// Len returns the number of cached statements.
func (p *StatementPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stmts)
}

// Close closes every cached statement.
func (p *StatementPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for k, st := range p.stmts {
		if err := st.stmt.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.stmts, k)
	}
	return errors.Join(errs...)
}

func (p *StatementPool) observe(query string, args []any) {
	if p.observer != nil {
		p.observer(query, args)
	}
	p.log.Debug("executing statement", zap.String("query", query), zap.Int("args", len(args)))
}
