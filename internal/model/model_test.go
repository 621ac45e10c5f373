package model

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testModel = `
driver: sqlite
max_connections: 4
init:
  - CREATE TABLE book (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT, author TEXT, price REAL, flag INTEGER, cover BLOB)
  - CREATE TABLE note (body TEXT)
  - CREATE TABLE ledger (id INTEGER PRIMARY KEY, amount INTEGER NOT NULL)
  - INSERT INTO book (title, author, price, flag, cover) VALUES ('  Dune ', 'Herbert', 9.5, 1, x'6869')
  - INSERT INTO book (title, author, price, flag) VALUES ('Emma', 'Austen', NULL, 0)
entities:
  - name: book
    table: book
    keys: [id]
    autoincrement: true
    aliases: {writer: author}
    filters: {title: trim, flag: bool}
    attributes:
      - {name: same_writer, kind: scalar, query: "SELECT COUNT(*) FROM book WHERE author = ?", params: [writer]}
  - name: note
    table: note
attributes:
  - {name: count, kind: scalar, query: "SELECT COUNT(*) FROM book"}
  - {name: title_of, kind: scalar, query: "SELECT title FROM book WHERE id = ?", params: [id]}
  - {name: price_of, kind: scalar, query: "SELECT price FROM book WHERE id = ?"}
  - {name: book, kind: row, result: book, query: "SELECT * FROM book WHERE id = ?"}
  - {name: books, kind: rowset, result: book, query: "SELECT * FROM book ORDER BY id"}
  - {name: raw, kind: row, query: "SELECT id, title AS Title FROM book WHERE id = ?"}
  - {name: ledger_count, kind: scalar, query: "SELECT COUNT(*) FROM ledger"}
  - {name: broken, kind: scalar, query: "SELECT nope FROM missing_table"}
  - {name: rename, kind: action, query: "UPDATE book SET title = ? WHERE id = ?"}
  - name: transfer
    kind: transaction
    query: >-
      INSERT INTO ledger (id, amount) VALUES (?, ?);
      INSERT INTO ledger (id, amount) VALUES (?, ?);
      INSERT INTO ledger (id, amount) VALUES (?, ?)
`

type executed struct {
	query string
	args  []any
}

// recorder collects the statements a database executes.
type recorder struct {
	mu   sync.Mutex
	seen []executed
}

func (r *recorder) observe(query string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, executed{query: query, args: append([]any(nil), args...)})
}

func (r *recorder) take() []executed {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.seen
	r.seen = nil
	return out
}

func openTestDB(t *testing.T, opts ...Option) (*Database, *recorder) {
	t.Helper()
	def, err := ParseDefinition([]byte(testModel))
	require.NoError(t, err)
	def.DSN = filepath.Join(t.TempDir(), "model.db")

	rec := &recorder{}
	opts = append([]Option{WithObserver(rec.observe)}, opts...)
	db, err := Open(context.Background(), def, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	rec.take()
	return db, rec
}

func mustEntity(t *testing.T, db *Database, name string) *Entity {
	t.Helper()
	e, err := db.Entity(name)
	require.NoError(t, err)
	return e
}

func mustAttribute(t *testing.T, db *Database, name string) *Attribute {
	t.Helper()
	a, err := db.Attribute(name)
	require.NoError(t, err)
	return a
}
