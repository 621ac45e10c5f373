package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"viewtools/internal/metrics"
)

// PooledConnection is a dedicated database connection. While checked out
// it belongs to a single caller; the busy counter additionally keeps the
// background checker away while a statement runs on it.
type PooledConnection struct {
	id   int
	conn *sql.Conn
	busy atomic.Int32

	// guarded by ConnectionPool.mu
	owned   bool
	lastUse time.Time
}

// ID identifies the connection in logs.
func (c *PooledConnection) ID() int { return c.id }

// Conn returns the underlying connection.
func (c *PooledConnection) Conn() *sql.Conn { return c.conn }

// EnterBusy marks a statement as running on the connection.
func (c *PooledConnection) EnterBusy() { c.busy.Add(1) }

// LeaveBusy ends a statement started with EnterBusy.
func (c *PooledConnection) LeaveBusy() { c.busy.Add(-1) }

// Busy reports whether a statement is running on the connection.
func (c *PooledConnection) Busy() bool { return c.busy.Load() > 0 }

// ConnectionPool hands out at most max dedicated connections. Callers that
// find every connection checked out wait for a release or for their
// context to end.
type ConnectionPool struct {
	db      *sql.DB
	max     int
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	conns    []*PooledConnection
	opening  int
	nextID   int
	released chan struct{}
	closed   bool
}

// NewConnectionPool creates an empty pool over db.
func NewConnectionPool(db *sql.DB, max int, log *zap.Logger, m *metrics.Metrics) *ConnectionPool {
	if max <= 0 {
		max = defaultMaxConnections
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnectionPool{
		db:       db,
		max:      max,
		log:      log,
		metrics:  m,
		now:      time.Now,
		released: make(chan struct{}),
	}
}

// Acquire checks out a connection. Among idle connections one accepted by
// prefer is chosen first. A new connection is opened when none is idle and
// the pool is below its limit.
func (p *ConnectionPool) Acquire(ctx context.Context, prefer func(*PooledConnection) bool) (*PooledConnection, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		var pick *PooledConnection
		for _, c := range p.conns {
			if c.owned {
				continue
			}
			if pick == nil {
				pick = c
			}
			if prefer != nil && prefer(c) {
				pick = c
				break
			}
		}
		if pick != nil {
			pick.owned = true
			p.publishLocked()
			p.mu.Unlock()
			return pick, nil
		}

		if len(p.conns)+p.opening < p.max {
			p.opening++
			p.mu.Unlock()
			return p.open(ctx)
		}

		wait := p.released
		p.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire connection: %w", ctx.Err())
		}
	}
}

func (p *ConnectionPool) open(ctx context.Context) (*PooledConnection, error) {
	conn, err := p.db.Conn(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.opening--
	if err != nil {
		p.broadcastLocked()
		return nil, fmt.Errorf("open connection: %w", err)
	}
	if p.closed {
		conn.Close()
		return nil, ErrPoolClosed
	}
	p.nextID++
	c := &PooledConnection{id: p.nextID, conn: conn, owned: true, lastUse: p.now()}
	p.conns = append(p.conns, c)
	p.publishLocked()
	p.log.Debug("connection opened", zap.Int("conn", c.id), zap.Int("open", len(p.conns)))
	return c, nil
}

// Release returns a checked-out connection and wakes waiting callers.
func (p *ConnectionPool) Release(c *PooledConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.owned = false
	c.lastUse = p.now()
	if p.closed {
		p.removeLocked(c)
		c.conn.Close()
	}
	p.publishLocked()
	p.broadcastLocked()
}

// Check pings every idle connection and evicts the ones that fail.
// onBroken runs for each evicted connection before it is closed.
func (p *ConnectionPool) Check(ctx context.Context, onBroken func(*PooledConnection)) int {
	p.mu.Lock()
	var idle []*PooledConnection
	for _, c := range p.conns {
		if !c.owned && !c.Busy() {
			c.owned = true
			idle = append(idle, c)
		}
	}
	p.mu.Unlock()

	evicted := 0
	for _, c := range idle {
		err := c.conn.PingContext(ctx)
		if err == nil {
			p.Release(c)
			continue
		}
		p.log.Warn("evicting broken connection", zap.Int("conn", c.id), zap.Error(err))
		if onBroken != nil {
			onBroken(c)
		}
		p.mu.Lock()
		p.removeLocked(c)
		p.publishLocked()
		p.broadcastLocked()
		p.mu.Unlock()
		c.conn.Close()
		evicted++
	}
	return evicted
}

// Stats returns the number of open and checked-out connections.
func (p *ConnectionPool) Stats() (open, inUse int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *ConnectionPool) statsLocked() (open, inUse int) {
	for _, c := range p.conns {
		if c.owned {
			inUse++
		}
	}
	return len(p.conns), inUse
}

// Close closes idle connections; checked-out ones close on release.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	kept := p.conns[:0]
	for _, c := range p.conns {
		if c.owned {
			kept = append(kept, c)
			continue
		}
		if err := c.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.conns = kept
	p.publishLocked()
	p.broadcastLocked()
	return errors.Join(errs...)
}

func (p *ConnectionPool) removeLocked(c *PooledConnection) {
	for i, x := range p.conns {
		if x == c {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			return
		}
	}
}

func (p *ConnectionPool) broadcastLocked() {
	close(p.released)
	p.released = make(chan struct{})
}

func (p *ConnectionPool) publishLocked() {
	if p.metrics == nil {
		return
	}
	p.metrics.SetConnections(p.statsLocked())
}
