package model

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func openSQL(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB
}

func TestConnectionPoolLimit(t *testing.T) {
	pool := NewConnectionPool(openSQL(t), 1, nil, nil)
	defer pool.Close()

	first, err := pool.Acquire(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan *PooledConnection, 1)
	go func() {
		c, err := pool.Acquire(context.Background(), nil)
		if err == nil {
			got <- c
		}
		close(got)
	}()

	time.Sleep(10 * time.Millisecond)
	pool.Release(first)

	select {
	case c := <-got:
		require.NotNil(t, c)
		assert.Equal(t, first.ID(), c.ID(), "the waiter gets the released connection")
		pool.Release(c)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Release")
	}

	open, inUse := pool.Stats()
	assert.Equal(t, 1, open)
	assert.Zero(t, inUse)
}

func TestConnectionPoolPrefers(t *testing.T) {
	pool := NewConnectionPool(openSQL(t), 2, nil, nil)
	defer pool.Close()
	ctx := context.Background()

	a, err := pool.Acquire(ctx, nil)
	require.NoError(t, err)
	b, err := pool.Acquire(ctx, nil)
	require.NoError(t, err)
	pool.Release(a)
	pool.Release(b)

	c, err := pool.Acquire(ctx, func(c *PooledConnection) bool { return c == b })
	require.NoError(t, err)
	assert.Same(t, b, c)
}

func TestConnectionPoolCheckEvictsBroken(t *testing.T) {
	pool := NewConnectionPool(openSQL(t), 2, nil, nil)
	defer pool.Close()
	ctx := context.Background()

	healthy, err := pool.Acquire(ctx, nil)
	require.NoError(t, err)
	broken, err := pool.Acquire(ctx, nil)
	require.NoError(t, err)
	pool.Release(healthy)
	pool.Release(broken)
	require.NoError(t, broken.Conn().Close())

	var dropped []*PooledConnection
	n := pool.Check(ctx, func(c *PooledConnection) { dropped = append(dropped, c) })
	assert.Equal(t, 1, n)
	assert.Equal(t, []*PooledConnection{broken}, dropped)

	open, inUse := pool.Stats()
	assert.Equal(t, 1, open)
	assert.Zero(t, inUse)
}

func TestConnectionPoolCheckSkipsBusy(t *testing.T) {
	pool := NewConnectionPool(openSQL(t), 1, nil, nil)
	defer pool.Close()
	ctx := context.Background()

	c, err := pool.Acquire(ctx, nil)
	require.NoError(t, err)
	c.EnterBusy()
	pool.Release(c)
	require.NoError(t, c.Conn().Close())

	assert.Zero(t, pool.Check(ctx, nil), "busy connections are left alone")
	c.LeaveBusy()
	assert.Equal(t, 1, pool.Check(ctx, nil))
}

func TestConnectionPoolClosed(t *testing.T) {
	pool := NewConnectionPool(openSQL(t), 1, nil, nil)
	c, err := pool.Acquire(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	_, err = pool.Acquire(context.Background(), nil)
	assert.ErrorIs(t, err, ErrPoolClosed)

	pool.Release(c)
	open, _ := pool.Stats()
	assert.Zero(t, open, "connections checked out at close are closed on release")
}

func TestStatementPool(t *testing.T) {
	conns := NewConnectionPool(openSQL(t), 2, nil, nil)
	defer conns.Close()
	var seen []string
	stmts := NewStatementPool(conns, nil, func(q string, _ []any) { seen = append(seen, q) })
	defer stmts.Close()
	ctx := context.Background()

	st, err := stmts.Statement(ctx, "SELECT 1")
	require.NoError(t, err)
	rows, err := st.Query(ctx)
	require.NoError(t, err)
	require.NoError(t, rows.Close())
	st.NotifyOver()
	st.NotifyOver()
	assert.Equal(t, []string{"SELECT 1"}, seen)

	again, err := stmts.Statement(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.Same(t, st, again, "an idle prepared statement is reused")
	assert.Equal(t, 1, stmts.Len())

	assert.Zero(t, stmts.EvictIdle(time.Now().Add(time.Hour)), "checked-out statements stay")
	again.NotifyOver()
	assert.Equal(t, 1, stmts.EvictIdle(time.Now().Add(time.Hour)))
	assert.Zero(t, stmts.Len())

	_, inUse := conns.Stats()
	assert.Zero(t, inUse)

	idle, err := conns.Acquire(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, idle.Conn().Close())
	conns.Release(idle)

	_, err = stmts.Statement(ctx, "SELECT 2")
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Zero(t, stmts.Len())
	open, inUse := conns.Stats()
	assert.Equal(t, 1, open)
	assert.Zero(t, inUse, "a failed prepare releases the connection")
}

func TestCheckerEvictsIdleStatements(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	def, err := ParseDefinition([]byte(testModel))
	require.NoError(t, err)
	def.DSN = filepath.Join(t.TempDir(), "model.db")
	def.CheckInterval = "10ms"
	def.StatementIdle = "1ms"

	db, err := Open(context.Background(), def)
	require.NoError(t, err)

	_, err = mustAttribute(t, db, "count").Evaluate(context.Background(), nil)
	require.NoError(t, err)
	_, stmts := db.Pools()
	assert.Eventually(t, func() bool { return stmts.Len() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = mustAttribute(t, db, "count").Evaluate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrPoolClosed)
}
