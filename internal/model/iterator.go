package model

import (
	"database/sql"
	"iter"
	"runtime"
	"sync"
)

// RowIterator walks the rows of a rowset attribute. It owns the result set
// and the pooled statement until it is exhausted, closed or garbage
// collected.
type RowIterator struct {
	entity *Entity
	cur    *cursor
	cols   []string

	current *Instance
	err     error
	closed  bool
}

// cursor is the part of an iterator that holds pooled resources. It is kept
// apart from RowIterator so the cleanup of an abandoned iterator can reach
// it without keeping the iterator alive.
type cursor struct {
	rows *sql.Rows
	stmt *PooledStatement
	once sync.Once
	err  error
}

func (c *cursor) release() error {
	c.once.Do(func() {
		c.err = c.rows.Close()
		c.stmt.conn.LeaveBusy()
		c.stmt.NotifyOver()
	})
	return c.err
}

func newRowIterator(e *Entity, rows *sql.Rows, st *PooledStatement, cols []string) *RowIterator {
	it := &RowIterator{entity: e, cur: &cursor{rows: rows, stmt: st}, cols: cols}
	runtime.AddCleanup(it, func(c *cursor) { c.release() }, it.cur)
	return it
}

// Next advances to the next row. It closes the iterator after the last
// row or on error.
func (it *RowIterator) Next() bool {
	if it.closed {
		return false
	}
	if !it.cur.rows.Next() {
		it.err = it.cur.rows.Err()
		it.Close()
		return false
	}
	vals, err := scanRow(it.cur.rows, len(it.cols))
	if err != nil {
		it.err = err
		it.Close()
		return false
	}
	it.current = it.entity.newInstance()
	it.current.SetInitialValues(it.cols, vals)
	return true
}

// Instance returns the current row.
func (it *RowIterator) Instance() *Instance { return it.current }

// Columns returns the result column names.
func (it *RowIterator) Columns() []string { return it.cols }

// Err returns the error that stopped the iteration, if any.
func (it *RowIterator) Err() error { return it.err }

// Close releases the result set and the statement. It is safe to call
// more than once.
func (it *RowIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.cur.release()
}

// Seq yields every remaining row and closes the iterator when the loop
// ends, early or not. Check Err afterwards.
func (it *RowIterator) Seq() iter.Seq[*Instance] {
	return func(yield func(*Instance) bool) {
		defer it.Close()
		for it.Next() {
			if !yield(it.current) {
				return
			}
		}
	}
}

// All reads every remaining row.
func (it *RowIterator) All() ([]*Instance, error) {
	var out []*Instance
	for inst := range it.Seq() {
		out = append(out, inst)
	}
	return out, it.err
}
